package core

import (
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// DemuxKey is a protocol-defined, comparable value a Listen call is
// registered under. Each protocol defines its own key domain (spec
// §3): UDP keys on (local IP, local port[, remote IP, remote port]),
// IPv4 keys on (local IP, upper protocol id), and so on. The graph
// itself never interprets a DemuxKey; it only stores and retrieves it
// per protocol.
type DemuxKey any

// Protocol is a stateful object bound to one Machine (spec §3/§4.3).
// It accepts open requests from upstream, listen registrations keyed
// by its own DemuxKey domain, and demux events carrying an inbound
// message plus context.
type Protocol interface {
	// ID returns this protocol's stable identifier within its Machine.
	ID() types.ProtocolID

	// Open is called top-down: an upstream protocol (or application)
	// asks this protocol to establish a session toward the
	// destination named in ctl. Open recurses: a correct
	// implementation opens on its own downstream protocol before
	// returning.
	Open(ctl types.Control) (Session, error)

	// Listen registers that upstream is willing to accept new flows
	// matching key. On first matching inbound demux, a session is
	// created and handed to upstream.
	Listen(key DemuxKey, ctl types.Control) error

	// Demux is called bottom-up with an inbound message, the control
	// bag the lower layers populated, and caller, the protocol that
	// is handing the message up (e.g. PCI calling into IPv4). The
	// protocol parses its own header, enriches ctl, and either routes
	// to an existing session, creates one against a listener, or
	// drops the message; a drop is silent and returns nil.
	Demux(msg *message.Message, ctl types.Control, caller Protocol) error
}
