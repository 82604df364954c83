// Package ipv4 implements the IPv4 protocol (spec §4.4): header
// encode/decode with a checksum over the header only, a per-machine
// routing table, and demuxing by (local IP, upper protocol id). No
// fragmentation: a send that would exceed the downstream MTU fails
// synchronously with FrameTooLarge instead of splitting the message.
package ipv4

import (
	"net/netip"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

const defaultTTL = 64

// Protocol is one machine's IPv4 layer.
type Protocol struct {
	log     definition.Logger
	machine *core.Machine
	routes  *RoutingTable
}

// New returns an IPv4 protocol using routes for outbound lookups.
func New(log definition.Logger, routes *RoutingTable) *Protocol {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	if routes == nil {
		routes = NewRoutingTable()
	}
	return &Protocol{log: log, routes: routes}
}

// ID implements core.Protocol.
func (p *Protocol) ID() types.ProtocolID {
	return types.IPv4
}

// BindMachine implements core.MachineBinder: IPv4 calls back up into
// the machine on demux, so it needs the same back-reference PCI does.
func (p *Protocol) BindMachine(m *core.Machine) {
	p.machine = m
}

// Open implements core.Protocol. ctl must carry KeyLocalAddr,
// KeyRemoteAddr and the upper protocol id (via WithProtocol); Open
// resolves a route for the remote address and opens PCI beneath it.
func (p *Protocol) Open(ctl types.Control) (core.Session, error) {
	local, ok := ctl.Addr(types.KeyLocalAddr)
	if !ok {
		return nil, simerrors.NoRoute
	}
	remote, ok := ctl.Addr(types.KeyRemoteAddr)
	if !ok {
		return nil, simerrors.NoRoute
	}
	upper, ok := ctl.Protocol()
	if !ok {
		return nil, simerrors.NoRoute
	}
	protoByte, ok := protocolByte(upper)
	if !ok {
		return nil, simerrors.NoRoute
	}
	route, ok := p.routes.Lookup(remote)
	if !ok {
		return nil, simerrors.NoRoute
	}
	pciCtl := types.NewControl().
		WithInt(types.KeyPciSlot, route.Slot).
		WithMAC(types.KeyPeerMAC, route.PeerMAC).
		WithProtocol(types.IPv4)
	downstream, err := p.machine.Open(types.PCI, pciCtl)
	if err != nil {
		return nil, err
	}
	return &Session{
		downstream: downstream,
		local:      local,
		remote:     remote,
		upper:      upper,
		protoByte:  protoByte,
	}, nil
}

// Listen implements core.Protocol. IPv4 has no per-flow state of its
// own to register: routing is resolved per-send, and inbound frames
// are always forwarded to whichever upper protocol their header names
// (spec §4.4 demux key "(local IP, upper protocol id)" is realized by
// the upper protocol's own Listen/session table, not a registry here).
func (p *Protocol) Listen(key core.DemuxKey, ctl types.Control) error {
	return nil
}

// Demux implements core.Protocol. Called by PCI with the raw frame
// payload; strips and validates the header, then forwards the
// remaining bytes to the upper protocol named by the header.
func (p *Protocol) Demux(msg *message.Message, ctl types.Control, caller core.Protocol) error {
	if corrupted, _ := ctl.Bool(types.KeyCorrupted); corrupted {
		p.log.Debugf("ipv4: %v, dropped", simerrors.BadChecksum)
		return nil
	}
	if msg.Len() < HeaderLen {
		p.log.Debugf("ipv4: short packet (%d bytes) dropped", msg.Len())
		return nil
	}
	headerBytes, err := msg.Slice(0, HeaderLen)
	if err != nil {
		return nil
	}
	h, err := Decode(headerBytes.Bytes())
	if err != nil {
		p.log.Debugf("ipv4: %v, dropped", err)
		return nil
	}
	upper, ok := protocolID(h.Protocol)
	if !ok {
		p.log.Debugf("ipv4: unknown upper protocol byte %d, dropped", h.Protocol)
		return nil
	}
	payload, err := msg.Slice(HeaderLen, msg.Len())
	if err != nil {
		return nil
	}
	upCtl := ctl.
		WithAddr(types.KeyLocalAddr, h.Dst).
		WithAddr(types.KeyRemoteAddr, h.Src)
	if p.machine == nil {
		p.log.Warnf("ipv4: demux before machine was bound")
		return nil
	}
	return p.machine.Demux(upper, payload, upCtl, p)
}

// Session is an IPv4 flow: one local/remote address pair and the
// upper protocol carried over it.
type Session struct {
	downstream core.Session
	local      netip.Addr
	remote     netip.Addr
	upper      types.ProtocolID
	protoByte  byte
}

// Send implements core.Session. It prepends an IPv4 header over msg
// and forwards to the PCI session opened beneath it.
func (s *Session) Send(msg *message.Message, ctl types.Control) error {
	h := Header{
		TotalLength: uint16(HeaderLen + msg.Len()),
		TTL:         defaultTTL,
		Protocol:    s.protoByte,
		Src:         s.local,
		Dst:         s.remote,
	}
	framed := msg.Prepend(Encode(h))
	return s.downstream.Send(framed, ctl.WithProtocol(types.IPv4))
}

// Receive implements core.Session. IPv4 delivers inbound data via
// Machine.Demux directly from Protocol.Demux, not through a
// session-level Receive call, so this is a no-op.
func (s *Session) Receive(msg *message.Message, ctl types.Control) error {
	return nil
}

// Close implements core.Session, closing the downstream PCI session.
func (s *Session) Close() error {
	return s.downstream.Close()
}
