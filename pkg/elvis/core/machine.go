package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// Machine owns a set of protocols keyed by ProtocolID (spec §3).
// Protocol identifiers are unique within one machine — enforced here
// at construction time. New does not check whether a protocol
// instance is also registered with another machine.
type Machine struct {
	name    string
	traceID string
	log     definition.Logger

	mu        sync.RWMutex
	protocols map[types.ProtocolID]Protocol
}

// New builds a Machine from an ordered list of protocol instances
// (spec §6 "Machine construction"). Protocol identifiers must be
// unique; New returns an error otherwise. Each machine gets a unique
// trace id (a real uuid, not a counter) so that log lines from two
// machines named identically in a generated topology still disambiguate.
func New(name string, log definition.Logger, protocols ...Protocol) (*Machine, error) {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	m := &Machine{
		name:      name,
		traceID:   uuid.NewString(),
		log:       log,
		protocols: make(map[types.ProtocolID]Protocol, len(protocols)),
	}
	for _, p := range protocols {
		id := p.ID()
		if _, exists := m.protocols[id]; exists {
			return nil, fmt.Errorf("machine %s: duplicate protocol id %#v", name, id)
		}
		m.protocols[id] = p
	}
	for _, p := range protocols {
		if binder, ok := p.(MachineBinder); ok {
			binder.BindMachine(m)
		}
	}
	return m, nil
}

// MachineBinder is implemented by protocols that need a back-reference
// to their owning Machine — PCI, which demuxes inbound frames by
// calling Machine.Demux directly from a tap's receive callback rather
// than waiting to be called into from above. New binds it after every
// protocol is registered, so BindMachine always sees the complete set.
type MachineBinder interface {
	BindMachine(m *Machine)
}

// Name returns the machine's human-readable name (for logging and
// NDL-driven topologies, which name machines rather than numbering
// them).
func (m *Machine) Name() string {
	return m.name
}

// TraceID returns the machine's generated trace id, included in log
// lines so runs with repeated machine names (common in generated
// topologies) can still be told apart.
func (m *Machine) TraceID() string {
	return m.traceID
}

// Protocol returns the protocol instance registered under id.
func (m *Machine) Protocol(id types.ProtocolID) (Protocol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.protocols[id]
	return p, ok
}

// Open routes an open request to the named protocol (spec §4.3 "Open
// path"). Typically called by an application, or recursively by a
// protocol opening on its own downstream.
func (m *Machine) Open(id types.ProtocolID, ctl types.Control) (Session, error) {
	p, ok := m.Protocol(id)
	if !ok {
		return nil, fmt.Errorf("machine %s: no protocol registered for %#v", m.name, id)
	}
	return p.Open(ctl)
}

// Listen registers a listen key with the named protocol (spec §4.3
// "Listen path").
func (m *Machine) Listen(id types.ProtocolID, key DemuxKey, ctl types.Control) error {
	p, ok := m.Protocol(id)
	if !ok {
		return fmt.Errorf("machine %s: no protocol registered for %#v", m.name, id)
	}
	return p.Listen(key, ctl)
}

// Demux routes an inbound message to the named protocol (spec §4.3
// "Demux path"), typically called by PCI after stripping the
// link-layer header.
func (m *Machine) Demux(id types.ProtocolID, msg *message.Message, ctl types.Control, caller Protocol) error {
	p, ok := m.Protocol(id)
	if !ok {
		m.log.Warnf("machine %s: demux for unregistered protocol %#v dropped", m.name, id)
		return nil // unregistered upper protocol: drop, do not propagate (§7 policy)
	}
	return p.Demux(msg, ctl, caller)
}
