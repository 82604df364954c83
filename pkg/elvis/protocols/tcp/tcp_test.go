package tcp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/network"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/protocols/ipv4"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/protocols/pci"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

type testPair struct {
	sched      *sched.Scheduler
	addrA      netip.Addr
	addrB      netip.Addr
	tcpA       *Protocol
	tcpB       *Protocol
}

func newTestPair(t *testing.T, opts ...Option) testPair {
	t.Helper()
	return newTestPairWithConfig(t, network.Config{MTU: 1500, Latency: time.Millisecond}, opts...)
}

func newTestPairWithConfig(t *testing.T, cfg network.Config, opts ...Option) testPair {
	t.Helper()
	s := sched.New(4, 64, nil)
	t.Cleanup(s.Shutdown)
	n := network.New("test", cfg, s, nil)

	tapA := n.Attach()
	tapB := n.Attach()

	addrA := netip.MustParseAddr("10.0.0.1")
	addrB := netip.MustParseAddr("10.0.0.2")

	routesA := ipv4.NewRoutingTable()
	routesA.AddRoute(ipv4.Route{Prefix: netip.PrefixFrom(addrB, 32), Slot: 0, PeerMAC: tapB.MAC()})
	pA := pci.New(nil)
	if err := pA.AttachTap(0, tapA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ipA := ipv4.New(nil, routesA)
	tcpA := New(nil, s, opts...)
	if _, err := core.New("a", nil, pA, ipA, tcpA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	routesB := ipv4.NewRoutingTable()
	routesB.AddRoute(ipv4.Route{Prefix: netip.PrefixFrom(addrA, 32), Slot: 0, PeerMAC: tapA.MAC()})
	pB := pci.New(nil)
	if err := pB.AttachTap(0, tapB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ipB := ipv4.New(nil, routesB)
	tcpB := New(nil, s, opts...)
	if _, err := core.New("b", nil, pB, ipB, tcpB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return testPair{sched: s, addrA: addrA, addrB: addrB, tcpA: tcpA, tcpB: tcpB}
}

func openCtl(local, remote netip.Addr, localPort, remotePort uint16) types.Control {
	return types.NewControl().
		WithAddr(types.KeyLocalAddr, local).
		WithAddr(types.KeyRemoteAddr, remote).
		WithPort(types.KeyLocalPort, localPort).
		WithPort(types.KeyRemotePort, remotePort)
}

func TestEndToEnd_HandshakeAndDataTransfer(t *testing.T) {
	p := newTestPair(t)

	accepted := make(chan *Session, 1)
	if err := p.tcpB.Listen(ListenKey{Local: p.addrB, LocalPort: 9000, Accept: func(s *Session) { accepted <- s }}, types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := p.tcpA.Open(openCtl(p.addrA, p.addrB, 4000, 9000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	got := make(chan string, 1)
	serverSess.OnReceive(func(msg *message.Message) { got <- string(msg.Bytes()) })

	if s, ok := sess.(*Session); !ok || s.State() != StateEstablished {
		t.Fatalf("expected client session established, got %v", sess.(*Session).State())
	}
	if serverSess.State() != StateEstablished {
		t.Fatalf("expected server session established, got %v", serverSess.State())
	}

	if err := sess.Send(message.NewFromBytes([]byte("hello tcp")), types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-got:
		if payload != "hello tcp" {
			t.Fatalf("expected %q, got %q", "hello tcp", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestEndToEnd_LargeTransferSplitsAcrossSegments(t *testing.T) {
	p := newTestPair(t, WithMSS(16))

	accepted := make(chan *Session, 1)
	if err := p.tcpB.Listen(ListenKey{Local: p.addrB, LocalPort: 9001, Accept: func(s *Session) { accepted <- s }}, types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := p.tcpA.Open(openCtl(p.addrA, p.addrB, 4001, 9001))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make(chan []byte, 1)
	var buf []byte
	serverSess.OnReceive(func(msg *message.Message) {
		buf = append(buf, msg.Bytes()...)
		if len(buf) >= len(payload) {
			received <- buf
		}
	})

	if err := sess.Send(message.NewFromBytes(payload), types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(got))
		}
		for i := range payload {
			if got[i] != payload[i] {
				t.Fatalf("byte %d mismatch: want %d got %d", i, payload[i], got[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for full payload")
	}
}

func TestEndToEnd_LossyFabricPreservesByteStream(t *testing.T) {
	p := newTestPairWithConfig(t, network.Config{MTU: 1500, Latency: time.Millisecond, Loss: 0.1}, WithMSS(32))

	accepted := make(chan *Session, 1)
	if err := p.tcpB.Listen(ListenKey{Local: p.addrB, LocalPort: 9010, Accept: func(s *Session) { accepted <- s }}, types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := p.tcpA.Open(openCtl(p.addrA, p.addrB, 4010, 9010))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	received := make(chan []byte, 1)
	var buf []byte
	serverSess.OnReceive(func(msg *message.Message) {
		buf = append(buf, msg.Bytes()...)
		if len(buf) >= len(payload) {
			received <- buf
		}
	})

	if err := sess.Send(message.NewFromBytes(payload), types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(got))
		}
		for i := range payload {
			if got[i] != payload[i] {
				t.Fatalf("byte %d mismatch under loss/retransmit: want %d got %d", i, payload[i], got[i])
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for full payload despite retransmission")
	}
}

func TestEndToEnd_GracefulClose(t *testing.T) {
	p := newTestPair(t, WithMSL(20*time.Millisecond))

	accepted := make(chan *Session, 1)
	if err := p.tcpB.Listen(ListenKey{Local: p.addrB, LocalPort: 9002, Accept: func(s *Session) { accepted <- s }}, types.NewControl()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := p.tcpA.Open(openCtl(p.addrA, p.addrB, 4002, 9002))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	eof := make(chan struct{}, 1)
	serverSess.OnEOF(func() { eof <- struct{}{} })

	if err := sess.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-eof:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for passive close EOF")
	}

	if got := serverSess.State(); got != StateCloseWait {
		t.Fatalf("expected CLOSE_WAIT, got %v", got)
	}

	if err := serverSess.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for client session to reach TIME_WAIT, last state %v", sess.(*Session).State())
		case <-time.After(10 * time.Millisecond):
			if sess.(*Session).State() == StateTimeWait {
				return
			}
		}
	}
}

func TestOpen_MissingAddressFails(t *testing.T) {
	s := sched.New(1, 8, nil)
	defer s.Shutdown()
	p := New(nil, s)
	if _, err := p.Open(types.NewControl()); err == nil {
		t.Fatal("expected error for missing addresses")
	}
}

func TestRecvBuffer_ReordersSegments(t *testing.T) {
	b := newRecvBuffer(1024, 100)
	b.Insert(105, message.NewFromBytes([]byte("world")))
	if out := b.Drain(); out != nil {
		t.Fatalf("expected nothing drained before the gap closes, got %q", out.Bytes())
	}
	b.Insert(100, message.NewFromBytes([]byte("hello")))
	out := b.Drain()
	if out == nil || string(out.Bytes()) != "helloworld" {
		t.Fatalf("expected %q, got %v", "helloworld", out)
	}
	if b.NextSeq() != 110 {
		t.Fatalf("expected nextSeq 110, got %d", b.NextSeq())
	}
}

func TestRecvBuffer_DropsDuplicate(t *testing.T) {
	b := newRecvBuffer(1024, 0)
	b.Insert(0, message.NewFromBytes([]byte("abc")))
	b.Drain()
	b.Insert(0, message.NewFromBytes([]byte("abc")))
	if out := b.Drain(); out != nil {
		t.Fatalf("expected duplicate to be dropped, got %q", out.Bytes())
	}
}

func TestCongestionWindow_SlowStartThenLoss(t *testing.T) {
	c := newCongestionWindow(100)
	if c.Window() != 100 {
		t.Fatalf("expected initial window of one segment, got %d", c.Window())
	}
	c.OnAck(100)
	if c.Window() != 200 {
		t.Fatalf("expected slow start to double window, got %d", c.Window())
	}
	c.OnLoss()
	if c.Window() > 200 {
		t.Fatalf("expected loss not to grow the window, got %d", c.Window())
	}
}

func TestCongestionWindow_TimeoutCollapsesToOneSegmentUnlikeFastRetransmit(t *testing.T) {
	fast := newCongestionWindow(100)
	fast.OnAck(100)
	fast.OnAck(200)
	fast.OnLoss()
	if fast.Window() != fast.ssthresh {
		t.Fatalf("expected fast retransmit to set cwnd to ssthresh (%d), got %d", fast.ssthresh, fast.Window())
	}

	timedOut := newCongestionWindow(100)
	timedOut.OnAck(100)
	timedOut.OnAck(200)
	timedOut.OnTimeout()
	if timedOut.Window() != 100 {
		t.Fatalf("expected a timeout to collapse cwnd to one segment (100), got %d", timedOut.Window())
	}
	if timedOut.ssthresh != fast.ssthresh {
		t.Fatalf("expected timeout and fast retransmit to lower ssthresh identically, got %d vs %d", timedOut.ssthresh, fast.ssthresh)
	}
}

func TestRTTEstimator_ConvergesTowardSample(t *testing.T) {
	r := newRTTEstimator()
	for i := 0; i < 20; i++ {
		r.Sample(50 * time.Millisecond)
	}
	if r.RTO() < 50*time.Millisecond {
		t.Fatalf("expected RTO to stay at least the sampled RTT, got %v", r.RTO())
	}
	if r.RTO() > 200*time.Millisecond {
		t.Fatalf("expected RTO to converge down after repeated low-variance samples, got %v", r.RTO())
	}
}

func TestSeqLess_HandlesWraparound(t *testing.T) {
	if !seqLess(0xFFFFFFFF, 0) {
		t.Fatal("expected wraparound comparison to treat max uint32 as less than 0")
	}
	if seqLess(5, 3) {
		t.Fatal("expected 5 to not be less than 3")
	}
}
