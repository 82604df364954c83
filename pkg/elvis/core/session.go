// Package core implements the protocol graph (spec §4.3): Machine, the
// Protocol and Session capability interfaces, and the open/listen/demux
// plumbing that binds them.
//
// Grounded on the teacher's Unity/PartitionPeer split
// (pkg/mcast/protocol.go, pkg/mcast/core/peer.go): a Unity there owns
// a fixed peer set and dispatches RPCs by command type; a Machine here
// owns a protocol set keyed by ProtocolID and dispatches inbound
// messages by the same id. Per spec §9, polymorphism is realized as a
// small interface (not a type hierarchy): protocols and sessions are
// data-carrying values behind Protocol/Session.
package core

import (
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// Session represents one active flow at one protocol layer (spec §3).
// A session holds a reference to its downstream session, if any,
// except the link-layer session, which references a Tap instead.
type Session interface {
	// Send pushes msg down this session's layer, prepending whatever
	// header this layer owns, continuing down the chain.
	Send(msg *message.Message, ctl types.Control) error

	// Receive delivers msg (already stripped of this layer's own
	// header by the caller, where applicable) upward to whatever
	// owns this session — an upper protocol's Demux, or an
	// application.
	Receive(msg *message.Message, ctl types.Control) error

	// Close releases the session's resources. It is idempotent.
	Close() error
}
