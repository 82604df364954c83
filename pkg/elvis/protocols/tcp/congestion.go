package tcp

import (
	"time"

	"github.com/enfein/mieru/pkg/mathext"
)

// rttEstimator tracks the smoothed round-trip time and its deviation
// with the Jacobson/Karels algorithm, and derives a retransmission
// timeout from them (spec §4.4 "retransmission on timeout").
type rttEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	sampled bool
}

const (
	minRTO = 200 * time.Millisecond
	maxRTO = 60 * time.Second
)

func newRTTEstimator() *rttEstimator {
	return &rttEstimator{rto: time.Second}
}

// Sample folds one round-trip measurement into the estimate.
func (r *rttEstimator) Sample(rtt time.Duration) {
	if !r.sampled {
		r.srtt = rtt
		r.rttvar = rtt / 2
		r.sampled = true
	} else {
		delta := r.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		r.rttvar = r.rttvar - r.rttvar/4 + delta/4
		r.srtt = r.srtt - r.srtt/8 + rtt/8
	}
	rto := r.srtt + 4*r.rttvar
	switch {
	case rto < minRTO:
		rto = minRTO
	case rto > maxRTO:
		rto = maxRTO
	}
	r.rto = rto
}

// RTO returns the current retransmission timeout.
func (r *rttEstimator) RTO() time.Duration {
	return r.rto
}

// congestionWindow implements slow start and congestion avoidance
// (spec §4.4 "sender congestion window"): additive increase per ACK
// below ssthresh (exponential growth in round-trip terms), one
// segment per window's worth of ACKs above it, and a multiplicative
// decrease to half the current window (floored at 2 segments) on loss.
// A true cubic window needs the curve-fitting state mieru's
// pkg/congestion carries; since that package was not available to
// ground this on (see DESIGN.md), this sticks to the Reno-style
// algorithm spec.md itself describes.
type congestionWindow struct {
	mss      int
	cwnd     int // bytes
	ssthresh int // bytes
	acked    int // bytes acked in the current congestion-avoidance round
}

func newCongestionWindow(mss int) *congestionWindow {
	return &congestionWindow{mss: mss, cwnd: mss, ssthresh: 64 * mss}
}

// OnAck grows the window by ackedBytes worth of progress.
func (c *congestionWindow) OnAck(ackedBytes int) {
	if c.cwnd < c.ssthresh {
		c.cwnd += mathext.Min(ackedBytes, c.mss)
		return
	}
	c.acked += ackedBytes
	if c.acked >= c.cwnd {
		c.acked -= c.cwnd
		c.cwnd += c.mss
	}
}

// OnLoss halves the window (floored at 2 MSS) and lowers ssthresh to
// match, the standard multiplicative-decrease response to a fast
// retransmit (three duplicate ACKs).
func (c *congestionWindow) OnLoss() {
	c.ssthresh = mathext.Max(c.cwnd/2, 2*c.mss)
	c.cwnd = c.ssthresh
	c.acked = 0
}

// OnTimeout drops ssthresh to half the current window (same as
// OnLoss) but collapses cwnd all the way down to one segment, the
// harsher response spec §4.4 reserves for a genuine retransmission
// timeout rather than a fast retransmit: "cwnd ← 1 (timeout) or cwnd
// ← ssthresh (fast recovery)".
func (c *congestionWindow) OnTimeout() {
	c.ssthresh = mathext.Max(c.cwnd/2, 2*c.mss)
	c.cwnd = c.mss
	c.acked = 0
}

// Window returns the current congestion window in bytes.
func (c *congestionWindow) Window() int {
	return c.cwnd
}
