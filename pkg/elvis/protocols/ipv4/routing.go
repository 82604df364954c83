package ipv4

import (
	"net/netip"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// Route binds a destination prefix to the PCI slot and peer MAC a
// matching packet should be framed toward. The core performs no
// address resolution of its own, so PeerMAC must already be known
// when the route is added (spec §6 "frozen for the duration of the
// simulation").
type Route struct {
	Prefix  netip.Prefix
	Slot    int
	PeerMAC types.MAC
}

// RoutingTable is a per-machine, longest-prefix-match IP table built
// once at machine-construction time and never mutated afterward (spec
// §5 "Routing tables ... frozen for the duration of the simulation,
// and freely readable without locking").
type RoutingTable struct {
	routes []Route
	def    *Route
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{}
}

// AddRoute adds a CIDR route. Overlapping prefixes are resolved by
// length at lookup time, so routes may be added in any order.
func (t *RoutingTable) AddRoute(r Route) {
	t.routes = append(t.routes, r)
}

// AddDefault sets the 0.0.0.0/0 gateway route, used when no more
// specific prefix matches (supplements spec.md's IPv4 module with the
// small-topology default-gateway idiom; see DESIGN.md).
func (t *RoutingTable) AddDefault(slot int, peerMAC types.MAC) {
	r := Route{Slot: slot, PeerMAC: peerMAC}
	t.def = &r
}

// Lookup returns the most specific route matching dst. ok is false if
// neither a CIDR route nor a default route matches.
func (t *RoutingTable) Lookup(dst netip.Addr) (Route, bool) {
	best := -1
	var match Route
	for _, r := range t.routes {
		if !r.Prefix.Contains(dst) {
			continue
		}
		if bits := r.Prefix.Bits(); bits > best {
			best = bits
			match = r
		}
	}
	if best >= 0 {
		return match, true
	}
	if t.def != nil {
		return *t.def, true
	}
	return Route{}, false
}
