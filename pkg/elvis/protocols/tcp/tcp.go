// Package tcp implements the TCP protocol (spec §4.4, in full): the
// three-way handshake, in-order byte delivery over a sliding receive
// window, cumulative ACKs with retransmission on timeout and on three
// duplicate ACKs, a slow-start/congestion-avoidance send window, and
// graceful close via a FIN exchange with a configurable TIME_WAIT.
package tcp

import (
	"net/netip"
	"sync"
	"time"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

const defaultMSL = 30 * time.Second
const defaultMSS = 1024
const defaultRecvWindow = 16 * defaultMSS

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

// ListenKey is the DemuxKey Protocol.Listen expects: the (local
// address, local port) pair to accept inbound connections on, plus
// the callback invoked once per completed handshake with the new
// Session.
type ListenKey struct {
	Local     netip.Addr
	LocalPort uint16
	Accept    func(*Session)
}

// Option configures a Protocol at construction.
type Option func(*Protocol)

// WithMSL overrides the maximum segment lifetime used to size
// TIME_WAIT (spec §4.4 "TIME_WAIT configurable, default 2xMSL").
func WithMSL(d time.Duration) Option {
	return func(p *Protocol) { p.msl = d }
}

// WithMSS overrides the maximum segment size used to split outbound
// data and size the congestion window.
func WithMSS(n int) Option {
	return func(p *Protocol) { p.mss = n }
}

// Protocol is one machine's TCP layer.
type Protocol struct {
	log     definition.Logger
	machine *core.Machine
	sched   *sched.Scheduler

	msl int64 // time.Duration, stored as int64 to keep the zero value meaningful
	mss int

	mu        sync.Mutex
	sessions  map[flowKey]*Session
	listeners map[listenKey]ListenKey
}

// New returns an empty TCP protocol. scheduler is used for
// retransmission and TIME_WAIT timers.
func New(log definition.Logger, scheduler *sched.Scheduler, opts ...Option) *Protocol {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	p := &Protocol{
		log:       log,
		sched:     scheduler,
		msl:       int64(defaultMSL),
		mss:       defaultMSS,
		sessions:  make(map[flowKey]*Session),
		listeners: make(map[listenKey]ListenKey),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) timeWait() time.Duration {
	return 2 * time.Duration(p.msl)
}

// ID implements core.Protocol.
func (p *Protocol) ID() types.ProtocolID {
	return types.TCP
}

// BindMachine implements core.MachineBinder.
func (p *Protocol) BindMachine(m *core.Machine) {
	p.machine = m
}

// Open implements core.Protocol: active open. ctl must carry
// KeyLocalAddr, KeyLocalPort, KeyRemoteAddr and KeyRemotePort. Open
// sends the initial SYN and returns the session in SYN_SENT; data
// written before the handshake completes is queued and flushed on
// reaching ESTABLISHED.
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

	downstream, err := p.machine.Open(types.IPv4, ctl.WithProtocol(types.TCP))
	if err != nil {
		return nil, err
	}

	sess := newSession(p, downstream, local, localPort, remote, remotePort)
	key := flowKey{local: local, localPort: localPort, remote: remote, remotePort: remotePort}
	p.mu.Lock()
	p.sessions[key] = sess
	p.mu.Unlock()

	sess.beginActiveOpen()
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

// Demux implements core.Protocol. Called by IPv4 with the TCP header
// still attached.
func (p *Protocol) Demux(msg *message.Message, ctl types.Control, caller core.Protocol) error {
	if corrupted, _ := ctl.Bool(types.KeyCorrupted); corrupted {
		p.log.Debugf("tcp: %v, dropped", simerrors.BadChecksum)
		return nil
	}
	if msg.Len() < HeaderLen {
		p.log.Debugf("tcp: short segment (%d bytes) dropped", msg.Len())
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
	wire := msg.Bytes()
	wire[HeaderLen-2], wire[HeaderLen-1] = 0, 0
	if checksum(wire) != h.Checksum {
		p.log.Debugf("tcp: %v, dropped", simerrors.BadChecksum)
		return nil
	}
	payload, err := msg.Slice(HeaderLen, msg.Len())
	if err != nil {
		return nil
	}

	local, _ := ctl.Addr(types.KeyLocalAddr)
	remote, _ := ctl.Addr(types.KeyRemoteAddr)
	key := flowKey{local: local, localPort: h.DstPort, remote: remote, remotePort: h.SrcPort}

	p.mu.Lock()
	sess, ok := p.sessions[key]
	p.mu.Unlock()
	if ok {
		sess.handleSegment(h, payload)
		return nil
	}

	if !h.Has(FlagSYN) || h.Has(FlagACK) {
		p.log.Debugf("tcp: segment for unknown flow %v:%d<-%v:%d dropped", local, h.DstPort, remote, h.SrcPort)
		return nil
	}

	p.mu.Lock()
	lk, ok := p.listeners[listenKey{local: local, localPort: h.DstPort}]
	p.mu.Unlock()
	if !ok {
		p.replyRST(local, h.DstPort, remote, h.SrcPort, h.Seq+1)
		return nil
	}

	downCtl := types.NewControl().
		WithAddr(types.KeyLocalAddr, local).
		WithAddr(types.KeyRemoteAddr, remote).
		WithPort(types.KeyLocalPort, h.DstPort).
		WithPort(types.KeyRemotePort, h.SrcPort).
		WithProtocol(types.TCP)
	downstream, err := p.machine.Open(types.IPv4, downCtl)
	if err != nil {
		p.log.Warnf("tcp: listener accept failed to open downstream: %v", err)
		return nil
	}
	newSess := newSession(p, downstream, local, h.DstPort, remote, h.SrcPort)
	p.mu.Lock()
	p.sessions[key] = newSess
	p.mu.Unlock()
	newSess.beginPassiveOpen(h, lk.Accept)
	return nil
}

// replyRST sends a bare RST with no backing session, used to refuse a
// SYN aimed at a port with no listener (spec §4.4 "RST on protocol
// errors").
func (p *Protocol) replyRST(local netip.Addr, localPort uint16, remote netip.Addr, remotePort uint16, ack uint32) {
	ctl := types.NewControl().
		WithAddr(types.KeyLocalAddr, local).
		WithAddr(types.KeyRemoteAddr, remote).
		WithProtocol(types.TCP)
	downstream, err := p.machine.Open(types.IPv4, ctl)
	if err != nil {
		return
	}
	defer downstream.Close()
	seg := EncodeChecksummed(Header{SrcPort: localPort, DstPort: remotePort, Ack: ack, Flags: FlagRST | FlagACK}, nil)
	_ = downstream.Send(message.NewFromBytes(seg), types.NewControl().WithProtocol(types.TCP))
}

func (p *Protocol) removeSession(key flowKey) {
	p.mu.Lock()
	delete(p.sessions, key)
	p.mu.Unlock()
}
