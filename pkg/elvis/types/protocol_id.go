// Package types holds the small, stable value types shared across the
// protocol graph: protocol identifiers, the control bag threaded
// along send/demux paths, and the MAC address type. The sentinel
// errors the core surfaces live in package simerrors.
//
// The shape of ProtocolID mirrors the teacher's Partition/ServerID:
// a light, hashable, string-backed tag rather than an enum, so new
// protocols (including ones added outside this module, e.g. by the
// application compatibility layer) can mint their own identifiers.
package types

import "fmt"

// ProtocolID is a stable, hashable tag identifying a protocol kind.
// It is unique within a single Machine; two machines may reuse the
// same ProtocolID for unrelated protocol instances.
type ProtocolID struct {
	kind string
}

// NewProtocolID mints a ProtocolID for the given kind name, e.g.
// "ipv4", "udp", "tcp", "pci", or an application-defined name.
func NewProtocolID(kind string) ProtocolID {
	return ProtocolID{kind: kind}
}

// String returns the kind name.
func (p ProtocolID) String() string {
	return p.kind
}

// IsZero reports whether p is the zero value (no protocol named).
func (p ProtocolID) IsZero() bool {
	return p.kind == ""
}

var (
	// PCI is the identifier of the distinguished link-layer protocol
	// that owns a machine's taps.
	PCI = NewProtocolID("pci")
	// IPv4 identifies the IPv4 network-layer protocol.
	IPv4 = NewProtocolID("ipv4")
	// UDP identifies the UDP transport-layer protocol.
	UDP = NewProtocolID("udp")
	// TCP identifies the TCP transport-layer protocol.
	TCP = NewProtocolID("tcp")
)

// GoString supports %#v formatting in logs, matching the teacher's
// habit of logging with %#v on protocol-graph structures.
func (p ProtocolID) GoString() string {
	return fmt.Sprintf("ProtocolID(%q)", p.kind)
}
