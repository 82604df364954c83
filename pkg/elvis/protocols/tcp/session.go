package tcp

import (
	"context"
	"encoding/binary"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// outSegment is one unacknowledged byte range the sender is holding
// for possible retransmission.
type outSegment struct {
	seq           uint32
	flags         byte
	payload       []byte
	sentAt        time.Time
	retransmitted bool
}

// timerStopper is satisfied by the unexported handle sched.AfterFunc
// returns; it lets Session hold the handle without naming its type.
type timerStopper interface {
	Stop()
}

// Session is one TCP connection (spec §4.4/§3): the state machine,
// send/receive buffers, RTT estimator, and congestion window for one
// (local, remote) address/port pair.
type Session struct {
	proto      *Protocol
	downstream core.Session

	local      netip.Addr
	localPort  uint16
	remote     netip.Addr
	remotePort uint16

	mu    sync.Mutex
	state State

	sendUnacked uint32
	sendNext    uint32
	sendWindow  int
	outstanding []outSegment
	outbox      *message.Message
	dupAcks     int

	recv *recvBuffer
	rtt  *rttEstimator
	cwnd *congestionWindow

	retransmitTimer timerStopper
	timeWaitTimer   timerStopper

	onEstablished func(*Session) // passive-open accept callback, fired once
	onReceive     func(*message.Message)
	onEOF         func()
	onClose       func(error)
}

func newSession(p *Protocol, downstream core.Session, local netip.Addr, localPort uint16, remote netip.Addr, remotePort uint16) *Session {
	return &Session{
		proto:      p,
		downstream: downstream,
		local:      local,
		localPort:  localPort,
		remote:     remote,
		remotePort: remotePort,
		state:      StateClosed,
		outbox:     message.New(),
		rtt:        newRTTEstimator(),
		cwnd:       newCongestionWindow(p.mss),
		sendWindow: defaultRecvWindow,
	}
}

func (s *Session) key() flowKey {
	return flowKey{local: s.local, localPort: s.localPort, remote: s.remote, remotePort: s.remotePort}
}

// OnReceive registers the callback invoked with each chunk of
// in-order application data as it becomes available.
func (s *Session) OnReceive(handler func(*message.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReceive = handler
}

// OnEOF registers the callback invoked once the peer's FIN has been
// processed and no further data will arrive.
func (s *Session) OnEOF(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEOF = handler
}

// OnClose registers the callback invoked with a non-nil error when
// the connection ends abnormally (spec §7 "connection lifecycle
// errors are delivered asynchronously to the session owner").
func (s *Session) OnClose(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = handler
}

// State returns the session's current state machine node.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// randomISN draws a fresh initial sequence number from a uuid's random
// bits rather than a seeded PRNG, so two sessions opened back to back
// in the same process never choose the same ISN.
func randomISN() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// beginActiveOpen sends the initial SYN (spec §4.4 "three-way
// handshake").
func (s *Session) beginActiveOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss := randomISN()
	s.sendUnacked = iss
	s.sendNext = iss + 1
	s.state = StateSynSent
	s.sendSegmentLocked(FlagSYN, iss, nil)
	s.armRetransmitLocked()
}

// beginPassiveOpen responds to an inbound SYN with a SYN+ACK and
// records accept to be invoked once the handshake completes.
func (s *Session) beginPassiveOpen(h Header, accept func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = newRecvBuffer(defaultRecvWindow, h.Seq+1)
	iss := randomISN()
	s.sendUnacked = iss
	s.sendNext = iss + 1
	s.state = StateSynReceived
	s.onEstablished = accept
	s.sendSegmentLocked(FlagSYN|FlagACK, iss, nil)
	s.armRetransmitLocked()
}

// sendSegmentLocked builds and transmits one segment, recording it in
// the outstanding list when it carries a SYN, FIN, or payload bytes
// that need an ACK (callers hold s.mu).
func (s *Session) sendSegmentLocked(flags byte, seq uint32, payload []byte) {
	s.sendRawLocked(flags, seq, payload)
	if flags&(FlagSYN|FlagFIN) != 0 || len(payload) > 0 {
		s.outstanding = append(s.outstanding, outSegment{seq: seq, flags: flags, payload: payload, sentAt: time.Now()})
	}
}

// sendRawLocked transmits a segment without recording it in
// outstanding (used both by sendSegmentLocked and by retransmission,
// which updates the existing outstanding entry itself).
func (s *Session) sendRawLocked(flags byte, seq uint32, payload []byte) {
	ack := uint32(0)
	window := defaultRecvWindow
	if s.recv != nil {
		ack = s.recv.NextSeq()
		window = s.recv.Window()
	}
	h := Header{
		SrcPort: s.localPort,
		DstPort: s.remotePort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Window:  uint16(clampWindow(window)),
	}
	wire := EncodeChecksummed(h, payload)
	_ = s.downstream.Send(message.NewFromBytes(wire), types.NewControl().WithProtocol(types.TCP))
}

func clampWindow(w int) int {
	if w < 0 {
		return 0
	}
	if w > 0xffff {
		return 0xffff
	}
	return w
}

func (s *Session) armRetransmitLocked() {
	if s.proto.sched == nil {
		return
	}
	if s.retransmitTimer != nil {
		s.retransmitTimer.Stop()
	}
	rto := s.rtt.RTO()
	s.retransmitTimer = s.proto.sched.AfterFunc(rto, func(ctx context.Context) {
		s.onRetransmitTimeout()
	})
}

// Send implements core.Session: splits msg into MSS-sized segments
// and transmits as many as the congestion and peer-advertised windows
// allow, queuing the remainder for release as ACKs arrive.
func (s *Session) Send(msg *message.Message, ctl types.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEstablished, StateCloseWait:
	case StateSynSent:
		// queued only; handleSynSentLocked flushes it on ESTABLISHED
		s.outbox = s.outbox.Concat(msg)
		return nil
	default:
		return simerrors.ConnectionReset
	}
	s.outbox = s.outbox.Concat(msg)
	s.flushLocked()
	return nil
}

func (s *Session) flushLocked() {
	inFlight := 0
	for _, seg := range s.outstanding {
		inFlight += len(seg.payload)
	}
	for s.outbox.Len() > 0 {
		budget := mssInt(s.proto.mss)
		if avail := s.cwnd.Window() - inFlight; avail < budget {
			budget = avail
		}
		if avail := s.sendWindow - inFlight; avail < budget {
			budget = avail
		}
		if budget <= 0 {
			return
		}
		n := budget
		if s.outbox.Len() < n {
			n = s.outbox.Len()
		}
		chunk, err := s.outbox.Slice(0, n)
		if err != nil {
			return
		}
		rest, err := s.outbox.Slice(n, s.outbox.Len())
		if err != nil {
			return
		}
		s.outbox = rest
		seq := s.sendNext
		s.sendNext += uint32(n)
		s.sendSegmentLocked(FlagACK, seq, chunk.Bytes())
		inFlight += n
	}
}

func mssInt(mss int) int {
	if mss <= 0 {
		return defaultMSS
	}
	return mss
}

// Receive implements core.Session. Inbound segments are delivered via
// handleSegment, called directly by Protocol.Demux, so this is a
// no-op.
func (s *Session) Receive(msg *message.Message, ctl types.Control) error {
	return nil
}

// Close implements core.Session: active close, sending a FIN (spec
// §4.4 "graceful close (FIN exchange)").
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEstablished:
		seq := s.sendNext
		s.sendNext++
		s.sendSegmentLocked(FlagFIN|FlagACK, seq, nil)
		s.state = StateFinWait1
		s.armRetransmitLocked()
	case StateCloseWait:
		seq := s.sendNext
		s.sendNext++
		s.sendSegmentLocked(FlagFIN|FlagACK, seq, nil)
		s.state = StateLastAck
		s.armRetransmitLocked()
	}
	return nil
}

func (s *Session) enterTimeWaitLocked() {
	s.state = StateTimeWait
	if s.retransmitTimer != nil {
		s.retransmitTimer.Stop()
		s.retransmitTimer = nil
	}
	if s.proto.sched != nil {
		s.timeWaitTimer = s.proto.sched.AfterFunc(s.proto.timeWait(), func(ctx context.Context) {
			s.proto.removeSession(s.key())
		})
	} else {
		s.proto.removeSession(s.key())
	}
}

func (s *Session) abortLocked(err error) {
	s.state = StateClosed
	if s.retransmitTimer != nil {
		s.retransmitTimer.Stop()
		s.retransmitTimer = nil
	}
	if s.timeWaitTimer != nil {
		s.timeWaitTimer.Stop()
		s.timeWaitTimer = nil
	}
	s.proto.removeSession(s.key())
	if s.onClose != nil {
		s.onClose(err)
	}
}

// onRetransmitTimeout resends the oldest unacknowledged segment and
// backs off (spec §4.4 "retransmission on timeout").
func (s *Session) onRetransmitTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outstanding) == 0 {
		return
	}
	s.cwnd.OnTimeout()
	seg := &s.outstanding[0]
	seg.retransmitted = true
	seg.sentAt = time.Now()
	s.sendRawLocked(seg.flags, seg.seq, seg.payload)
	s.rtt.rto *= 2
	if s.rtt.rto > maxRTO {
		s.rtt.rto = maxRTO
	}
	s.armRetransmitLocked()
}

// handleSegment is the state-machine dispatch for an inbound segment,
// called by Protocol.Demux.
func (s *Session) handleSegment(h Header, payload *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Has(FlagRST) {
		switch s.state {
		case StateSynSent:
			s.abortLocked(simerrors.ConnectionRefused)
		default:
			s.abortLocked(simerrors.ConnectionReset)
		}
		return
	}

	switch s.state {
	case StateSynSent:
		s.handleSynSentLocked(h)
	case StateSynReceived:
		s.handleSynReceivedLocked(h, payload)
	default:
		s.processAckLocked(h)
		s.processDataLocked(h, payload)
		s.processFinLocked(h)
	}
}

func (s *Session) handleSynSentLocked(h Header) {
	if !h.Has(FlagSYN) {
		return
	}
	s.recv = newRecvBuffer(defaultRecvWindow, h.Seq+1)
	if h.Has(FlagACK) && h.Ack == s.sendNext {
		s.sendUnacked = h.Ack
		s.outstanding = nil
		if s.retransmitTimer != nil {
			s.retransmitTimer.Stop()
			s.retransmitTimer = nil
		}
		s.state = StateEstablished
		s.sendSegmentLocked(FlagACK, s.sendNext, nil)
		s.flushLocked()
	}
}

func (s *Session) handleSynReceivedLocked(h Header, payload *message.Message) {
	if h.Has(FlagSYN) && !h.Has(FlagACK) {
		// retransmitted SYN; resend our SYN+ACK
		s.sendRawLocked(FlagSYN|FlagACK, s.sendUnacked, nil)
		return
	}
	if h.Has(FlagACK) && h.Ack == s.sendNext {
		s.sendUnacked = h.Ack
		s.outstanding = nil
		if s.retransmitTimer != nil {
			s.retransmitTimer.Stop()
			s.retransmitTimer = nil
		}
		s.state = StateEstablished
		if s.onEstablished != nil {
			s.onEstablished(s)
			s.onEstablished = nil
		}
		if payload.Len() > 0 {
			s.processDataLocked(h, payload)
		}
	}
}

// processAckLocked retires acknowledged outstanding segments, samples
// RTT, advances the congestion window, and runs fast retransmit on
// three duplicate ACKs (spec §4.4).
func (s *Session) processAckLocked(h Header) {
	if !h.Has(FlagACK) {
		return
	}
	if seqLess(s.sendUnacked, h.Ack) {
		acked := int(h.Ack - s.sendUnacked)
		for len(s.outstanding) > 0 {
			seg := s.outstanding[0]
			segEnd := seg.seq + uint32(maxInt(len(seg.payload), 1))
			if seqLess(h.Ack, segEnd) {
				break
			}
			if !seg.retransmitted {
				s.rtt.Sample(time.Since(seg.sentAt))
			}
			s.outstanding = s.outstanding[1:]
		}
		s.sendUnacked = h.Ack
		s.dupAcks = 0
		s.cwnd.OnAck(acked)
		s.sendWindow = int(h.Window)

		if s.retransmitTimer != nil {
			s.retransmitTimer.Stop()
			s.retransmitTimer = nil
		}
		if len(s.outstanding) > 0 {
			s.armRetransmitLocked()
		}

		switch s.state {
		case StateFinWait1:
			if s.sendUnacked == s.sendNext {
				s.state = StateFinWait2
			}
		case StateLastAck:
			if s.sendUnacked == s.sendNext {
				s.enterTimeWaitLocked()
			}
		}
		s.flushLocked()
		return
	}
	if h.Ack == s.sendUnacked {
		s.sendWindow = int(h.Window)
		if len(s.outstanding) > 0 {
			s.dupAcks++
			if s.dupAcks == 3 {
				s.dupAcks = 0
				s.cwnd.OnLoss()
				seg := s.outstanding[0]
				s.sendRawLocked(seg.flags, seg.seq, seg.payload)
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// processDataLocked reassembles payload into the receive buffer and
// delivers the contiguous in-order prefix, if any.
func (s *Session) processDataLocked(h Header, payload *message.Message) {
	if payload == nil || payload.Len() == 0 || s.recv == nil {
		return
	}
	s.recv.Insert(h.Seq, payload)
	if drained := s.recv.Drain(); drained != nil {
		s.sendRawLocked(FlagACK, s.sendNext, nil)
		if s.onReceive != nil {
			handler := s.onReceive
			s.mu.Unlock()
			handler(drained)
			s.mu.Lock()
		}
	}
}

// processFinLocked handles a FIN bit on an inbound segment, advancing
// toward CLOSE_WAIT or TIME_WAIT depending on which side closes first.
// Simultaneous close (both sides FIN before either ACKs the other's)
// collapses straight to TIME_WAIT here rather than introducing a
// CLOSING state, since spec.md's state list does not include one.
func (s *Session) processFinLocked(h Header) {
	if !h.Has(FlagFIN) {
		return
	}
	if s.recv != nil && h.Seq != s.recv.NextSeq() {
		return // FIN arrived ahead of outstanding data; wait for the gap to close
	}
	if s.recv != nil {
		s.recv.nextSeq++
	}
	s.sendRawLocked(FlagACK, s.sendNext, nil)

	switch s.state {
	case StateEstablished:
		s.state = StateCloseWait
		if s.onEOF != nil {
			s.onEOF()
		}
	case StateFinWait1, StateFinWait2:
		s.enterTimeWaitLocked()
		if s.onEOF != nil {
			s.onEOF()
		}
	}
}
