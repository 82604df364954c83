package types

import "fmt"

// MAC is a fabric-unique link-layer address (spec §3 "Network
// configuration"). It lives in this leaf package, rather than in
// network, so that the control bag can carry a resolved peer address
// between IPv4's routing table and PCI's framing without network
// depending on types and types depending on network at once.
type MAC [6]byte

// Broadcast is the reserved destination MAC meaning "every attached
// tap except the sender".
var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether m is the reserved broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == Broadcast
}

// IsMulticast reports whether m's low-order bit of the first octet is
// set, the conventional multicast marker.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}
