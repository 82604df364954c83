// Package udp implements the stateless UDP protocol (spec §4.4): an
// 8-byte header, optional checksum, and demuxing by the full 4-tuple
// for connected sessions or by (local IP, local port) for listeners.
package udp

import (
	"net/netip"
	"sync"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

type flowKey struct {
	local      netip.Addr
	localPort  uint16
	remote     netip.Addr
	remotePort uint16
}

type listenKey struct {
	local     netip.Addr
	localPort uint16
}

// ListenKey is the DemuxKey UDP expects from Machine.Listen: the
// (local address, local port) pair to accept inbound flows on, plus
// the callback invoked with each newly created Session (spec's
// "capture" application accepts this way).
type ListenKey struct {
	Local     netip.Addr
	LocalPort uint16
	Accept    func(*Session)
}

// Protocol is one machine's UDP layer.
type Protocol struct {
	log     definition.Logger
	machine *core.Machine

	mu        sync.Mutex
	sessions  map[flowKey]*Session
	listeners map[listenKey]ListenKey
}

// New returns an empty UDP protocol.
func New(log definition.Logger) *Protocol {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	return &Protocol{
		log:       log,
		sessions:  make(map[flowKey]*Session),
		listeners: make(map[listenKey]ListenKey),
	}
}

// ID implements core.Protocol.
func (p *Protocol) ID() types.ProtocolID {
	return types.UDP
}

// BindMachine implements core.MachineBinder.
func (p *Protocol) BindMachine(m *core.Machine) {
	p.machine = m
}

// Open implements core.Protocol. ctl must carry KeyLocalAddr,
// KeyLocalPort, KeyRemoteAddr and KeyRemotePort; Open opens an IPv4
// session beneath it and registers the resulting flow so inbound
// replies demux back to it.
func (p *Protocol) Open(ctl types.Control) (core.Session, error) {
	local, ok := ctl.Addr(types.KeyLocalAddr)
	if !ok {
		return nil, simerrors.NoRoute
	}
	remote, ok := ctl.Addr(types.KeyRemoteAddr)
	if !ok {
		return nil, simerrors.NoRoute
	}
	localPort, ok := ctl.Port(types.KeyLocalPort)
	if !ok {
		return nil, simerrors.NoRoute
	}
	remotePort, ok := ctl.Port(types.KeyRemotePort)
	if !ok {
		return nil, simerrors.NoRoute
	}

	ipCtl := ctl.WithProtocol(types.UDP)
	downstream, err := p.machine.Open(types.IPv4, ipCtl)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		downstream: downstream,
		local:      local,
		localPort:  localPort,
		remote:     remote,
		remotePort: remotePort,
	}
	key := flowKey{local: local, localPort: localPort, remote: remote, remotePort: remotePort}
	p.mu.Lock()
	p.sessions[key] = sess
	p.mu.Unlock()
	return sess, nil
}

// Listen implements core.Protocol, registering key as a ListenKey.
func (p *Protocol) Listen(key core.DemuxKey, ctl types.Control) error {
	lk, ok := key.(ListenKey)
	if !ok {
		return simerrors.NoRoute
	}
	p.mu.Lock()
	p.listeners[listenKey{local: lk.Local, localPort: lk.LocalPort}] = lk
	p.mu.Unlock()
	return nil
}

// Demux implements core.Protocol. Called by IPv4 with the UDP header
// still attached.
func (p *Protocol) Demux(msg *message.Message, ctl types.Control, caller core.Protocol) error {
	if msg.Len() < HeaderLen {
		p.log.Debugf("udp: short packet (%d bytes) dropped", msg.Len())
		return nil
	}
	headerBytes, err := msg.Slice(0, HeaderLen)
	if err != nil {
		return nil
	}
	h, ok := Decode(headerBytes.Bytes())
	if !ok {
		return nil
	}
	if int(h.Length) != msg.Len() {
		p.log.Debugf("udp: header length %d does not match packet length %d, dropped", h.Length, msg.Len())
		return nil
	}
	payload, err := msg.Slice(HeaderLen, msg.Len())
	if err != nil {
		return nil
	}
	if h.Checksum != 0 {
		zeroed := msg.Bytes()
		zeroed[6], zeroed[7] = 0, 0
		if checksum(zeroed) != h.Checksum {
			p.log.Debugf("udp: checksum mismatch, dropped")
			return nil
		}
	}

	local, _ := ctl.Addr(types.KeyLocalAddr)
	remote, _ := ctl.Addr(types.KeyRemoteAddr)
	key := flowKey{local: local, localPort: h.DstPort, remote: remote, remotePort: h.SrcPort}

	p.mu.Lock()
	sess, ok := p.sessions[key]
	p.mu.Unlock()
	if ok {
		return sess.Receive(payload, ctl.WithPort(types.KeyLocalPort, h.DstPort).WithPort(types.KeyRemotePort, h.SrcPort))
	}

	p.mu.Lock()
	lk, ok := p.listeners[listenKey{local: local, localPort: h.DstPort}]
	p.mu.Unlock()
	if !ok {
		p.log.Debugf("udp: no session or listener for %v:%d, dropped", local, h.DstPort)
		return nil
	}

	downCtl := ctl.
		WithAddr(types.KeyLocalAddr, local).
		WithAddr(types.KeyRemoteAddr, remote).
		WithPort(types.KeyLocalPort, h.DstPort).
		WithPort(types.KeyRemotePort, h.SrcPort).
		WithProtocol(types.UDP)
	downstream, err := p.machine.Open(types.IPv4, downCtl)
	if err != nil {
		p.log.Warnf("udp: listener accept failed to open downstream: %v", err)
		return nil
	}
	newSess := &Session{
		downstream: downstream,
		local:      local,
		localPort:  h.DstPort,
		remote:     remote,
		remotePort: h.SrcPort,
	}
	p.mu.Lock()
	p.sessions[key] = newSess
	p.mu.Unlock()
	lk.Accept(newSess)
	return newSess.Receive(payload, downCtl)
}

// Session is one UDP flow.
type Session struct {
	downstream core.Session
	local      netip.Addr
	localPort  uint16
	remote     netip.Addr
	remotePort uint16

	mu      sync.Mutex
	handler func(msg *message.Message, ctl types.Control)
}

// OnReceive registers the callback invoked with each inbound message
// on this flow, mirroring network.Tap.OnReceive.
func (s *Session) OnReceive(handler func(msg *message.Message, ctl types.Control)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Send implements core.Session: prepends the UDP header (checksum
// left at zero, unchecked) and forwards to the IPv4 session beneath.
func (s *Session) Send(msg *message.Message, ctl types.Control) error {
	h := Header{
		SrcPort: s.localPort,
		DstPort: s.remotePort,
		Length:  uint16(HeaderLen + msg.Len()),
	}
	framed := msg.Prepend(Encode(h))
	return s.downstream.Send(framed, ctl.WithProtocol(types.UDP))
}

// Receive implements core.Session: hands msg to the registered
// handler, if any.
func (s *Session) Receive(msg *message.Message, ctl types.Control) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(msg, ctl)
	}
	return nil
}

// Close implements core.Session, closing the downstream IPv4 session.
func (s *Session) Close() error {
	return s.downstream.Close()
}
