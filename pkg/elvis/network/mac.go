package network

import "github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"

// MAC is the fabric address type, defined in types so the control bag
// can carry a resolved peer MAC without an import cycle between
// network and types.
type MAC = types.MAC

// Broadcast re-exports the reserved broadcast address for callers
// that only import network.
var Broadcast = types.Broadcast

// NewMulticastGroup mints a group MAC from a small numeric group id,
// setting the multicast bit so it is never confused with a unicast
// tap address issued by Network.Attach.
func NewMulticastGroup(id uint32) MAC {
	return MAC{0x01, 0x00, byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

func macFromCounter(n uint64) MAC {
	return MAC{0x02, byte(n >> 32), byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
