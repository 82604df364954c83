package ipv4

import (
	"net/netip"
	"testing"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

func TestLookup_LongestPrefixWins(t *testing.T) {
	table := NewRoutingTable()
	macA := types.MAC{0, 0, 0, 0, 0, 1}
	macB := types.MAC{0, 0, 0, 0, 0, 2}
	table.AddRoute(Route{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Slot: 0, PeerMAC: macA})
	table.AddRoute(Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Slot: 1, PeerMAC: macB})

	r, ok := table.Lookup(netip.MustParseAddr("10.0.0.5"))
	if !ok {
		t.Fatal("expected a match")
	}
	if r.Slot != 1 {
		t.Fatalf("expected longest prefix (slot 1), got slot %d", r.Slot)
	}

	r, ok = table.Lookup(netip.MustParseAddr("10.1.2.3"))
	if !ok || r.Slot != 0 {
		t.Fatalf("expected fallback to /8 (slot 0), got %+v ok=%v", r, ok)
	}
}

func TestLookup_FallsBackToDefault(t *testing.T) {
	table := NewRoutingTable()
	gateway := types.MAC{1, 2, 3, 4, 5, 6}
	table.AddDefault(9, gateway)

	r, ok := table.Lookup(netip.MustParseAddr("8.8.8.8"))
	if !ok || r.Slot != 9 || r.PeerMAC != gateway {
		t.Fatalf("expected default route, got %+v ok=%v", r, ok)
	}
}

func TestLookup_NoRouteNoDefault(t *testing.T) {
	table := NewRoutingTable()
	if _, ok := table.Lookup(netip.MustParseAddr("1.2.3.4")); ok {
		t.Fatal("expected no match")
	}
}
