// Package pci implements the distinguished link-layer protocol (spec
// §4.3): it owns a machine's taps as ordered slots, frames outgoing
// messages with the peer's MAC on send, and strips + demuxes inbound
// frames by upper-protocol id on receive. It sits below every other
// protocol in the graph and above nothing.
package pci

import (
	"fmt"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/network"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// Protocol is one machine's PCI layer: an ordered set of taps, one per
// slot, each wired to a network on AttachTap.
type Protocol struct {
	log     definition.Logger
	machine *core.Machine
	taps    []*network.Tap
}

// New returns an empty PCI protocol with no slots attached.
func New(log definition.Logger) *Protocol {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	return &Protocol{log: log}
}

// ID implements core.Protocol.
func (p *Protocol) ID() types.ProtocolID {
	return types.PCI
}

// BindMachine implements core.MachineBinder: Machine.New calls this
// once every protocol is registered, giving PCI a back-reference to
// use from the tap receive callback.
func (p *Protocol) BindMachine(m *core.Machine) {
	p.machine = m
}

// AttachTap binds tap to slot, the index upper protocols name in
// Control via KeyPciSlot (spec §6 "PCI slot index, built once at
// machine-construction time and frozen"). Slots are not required to
// be attached in order, but a slot already occupied is rejected.
func (p *Protocol) AttachTap(slot int, tap *network.Tap) error {
	if slot < 0 {
		return fmt.Errorf("pci: slot %d is negative", slot)
	}
	for len(p.taps) <= slot {
		p.taps = append(p.taps, nil)
	}
	if p.taps[slot] != nil {
		return fmt.Errorf("pci: slot %d already attached", slot)
	}
	p.taps[slot] = tap
	tap.OnReceive(func(f network.Frame) {
		p.handleFrame(slot, f)
	})
	return nil
}

func (p *Protocol) tapAt(slot int) (*network.Tap, bool) {
	if slot < 0 || slot >= len(p.taps) || p.taps[slot] == nil {
		return nil, false
	}
	return p.taps[slot], true
}

func (p *Protocol) handleFrame(slot int, f network.Frame) {
	if p.machine == nil {
		p.log.Warnf("pci: frame arrived on slot %d before machine was bound", slot)
		return
	}
	ctl := types.NewControl().
		WithInt(types.KeyPciSlot, slot).
		WithMAC(types.KeyPeerMAC, f.Src).
		WithBool(types.KeyCorrupted, f.Corrupted)
	if err := p.machine.Demux(f.Protocol, f.Payload, ctl, p); err != nil {
		p.log.Warnf("pci: demux on slot %d failed: %v", slot, err)
	}
}

// Open implements core.Protocol. ctl must carry KeyPciSlot (which slot
// to frame on) and KeyPeerMAC (the resolved destination address); the
// graph performs no address resolution of its own (spec §4.4 IPv4
// "unresolved destination fails NoRoute" happens one layer up, at the
// routing table lookup that populates KeyPeerMAC).
func (p *Protocol) Open(ctl types.Control) (core.Session, error) {
	slot, ok := ctl.Int(types.KeyPciSlot)
	if !ok {
		return nil, fmt.Errorf("pci: open requires KeyPciSlot")
	}
	tap, ok := p.tapAt(slot)
	if !ok {
		return nil, fmt.Errorf("pci: no tap attached at slot %d", slot)
	}
	peer, ok := ctl.MAC(types.KeyPeerMAC)
	if !ok {
		return nil, fmt.Errorf("pci: open requires KeyPeerMAC")
	}
	protoID, _ := ctl.Protocol()
	return &Session{tap: tap, peer: peer, protocol: protoID}, nil
}

// Listen implements core.Protocol. PCI has no demux key domain of its
// own: every inbound frame is dispatched to its upper protocol as soon
// as it arrives, so there is nothing to register here.
func (p *Protocol) Listen(key core.DemuxKey, ctl types.Control) error {
	return nil
}

// Demux implements core.Protocol. Nothing sits below PCI in the
// graph, so Demux is never legitimately called into it; it only
// exists to satisfy the interface.
func (p *Protocol) Demux(msg *message.Message, ctl types.Control, caller core.Protocol) error {
	return fmt.Errorf("pci: demux has no lower protocol to call from")
}

// Session is PCI's link-layer session: it references a Tap directly
// instead of a downstream Session (spec §3 "exactly one downstream
// link except the PCI session").
type Session struct {
	tap      *network.Tap
	peer     types.MAC
	protocol types.ProtocolID
}

// Send implements core.Session. It frames msg as a unicast Frame to
// peer, or a broadcast Frame if peer is the reserved broadcast
// address, and hands it to the tap.
func (s *Session) Send(msg *message.Message, ctl types.Control) error {
	protoID := s.protocol
	if id, ok := ctl.Protocol(); ok {
		protoID = id
	}
	dst := network.UnicastTo(s.peer)
	if s.peer.IsBroadcast() {
		dst = network.BroadcastAll()
	}
	return s.tap.Send(network.Frame{
		Dst:      dst,
		Protocol: protoID,
		Payload:  msg,
	})
}

// Receive implements core.Session. PCI delivers inbound frames via
// Machine.Demux from the tap's receive callback, not through this
// method; it is a no-op so Session is satisfied.
func (s *Session) Receive(msg *message.Message, ctl types.Control) error {
	return nil
}

// Close implements core.Session. The tap itself is owned by the
// machine's PCI slot, not by any one session, so Close releases
// nothing.
func (s *Session) Close() error {
	return nil
}
