package network

import (
	"sync"
	"time"
)

// lane serializes deliveries for one (sender, recipient) tap pair so
// that, per spec §4.2/§5, dispatch order is preserved modulo drops
// even though individual frames may carry different transmission
// delays (a short frame queued behind a long one must not overtake
// it). Each lane assigns every frame a virtual finish time no earlier
// than the previous frame's, the classic single-server queueing
// discipline also used by ooni-netem's LinkFwdFull outgoing buffer
// (see DESIGN.md).
//
// Ordering is enforced purely through the monotonically non-decreasing
// deadlines reserve hands out: the caller schedules each frame's
// delivery against the scheduler's own timer wheel (sched.AfterFunc),
// so a lane never ties down a worker goroutine waiting on a channel.
// That matters at scale (spec §1's "tens of thousands of simulated
// hosts"): a standing per-lane drain task would pin one of the fixed
// worker-pool goroutines for as long as the lane exists, and once the
// number of concurrently active lanes exceeds the pool size every
// other queued task — including the remaining lanes' own deliveries —
// would starve behind it.
type lane struct {
	mu           sync.Mutex
	lastDeadline time.Time
}

func newLane() *lane {
	return &lane{}
}

// reserve computes this frame's arrival deadline and bumps the lane's
// bookkeeping so the next frame on this pair cannot arrive earlier.
func (l *lane) reserve(delay time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	start := now
	if l.lastDeadline.After(start) {
		start = l.lastDeadline
	}
	arrival := start.Add(delay)
	l.lastDeadline = arrival
	return arrival
}
