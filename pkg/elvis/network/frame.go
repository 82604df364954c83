package network

import (
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// DestinationKind selects how a Frame's destination MAC is
// interpreted by the fabric.
type DestinationKind int

const (
	// Unicast delivers to the single tap whose MAC matches.
	Unicast DestinationKind = iota
	// BroadcastKind delivers to every attached tap but the sender.
	BroadcastKind
	// MulticastKind delivers to every tap subscribed to the group.
	MulticastKind
)

// Destination names a Frame's recipient set.
type Destination struct {
	Kind DestinationKind
	MAC  MAC // meaningful for Unicast and MulticastKind
}

// UnicastTo builds a unicast destination.
func UnicastTo(mac MAC) Destination {
	return Destination{Kind: Unicast, MAC: mac}
}

// BroadcastAll builds the broadcast destination.
func BroadcastAll() Destination {
	return Destination{Kind: BroadcastKind, MAC: Broadcast}
}

// MulticastTo builds a destination addressed to a multicast group.
func MulticastTo(group MAC) Destination {
	return Destination{Kind: MulticastKind, MAC: group}
}

// Frame is the link-layer unit the fabric carries (spec §3): a
// destination, the sender's MAC, the upper-layer protocol id carried
// for demuxing, and the Message payload. No further structure is
// prescribed by the core.
type Frame struct {
	Dst       Destination
	Src       MAC
	Protocol  types.ProtocolID
	Payload   *message.Message
	Corrupted bool
}
