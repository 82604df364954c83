// Package network implements the virtual network fabric (spec §4.2):
// a per-network delivery medium modeling MTU, latency, throughput,
// loss, and corruption, offering unicast, multicast, and broadcast
// delivery among attached Taps.
//
// Grounded on the teacher's Transport interface
// (pkg/mcast/core/transport.go: Broadcast/Unicast/Listen/Close) for
// the public shape, generalized from a reliable group-broadcast
// transport into a lossy, latency-modeled fabric; and on
// ooni-netem's LinkFwdFull for the queueing discipline that keeps
// per-pair delivery order intact under variable transmission delay.
package network

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
)

// Network is a single virtual delivery medium. It is safe for
// concurrent use by many attached Taps.
type Network struct {
	name   string
	config Config
	sched  *sched.Scheduler
	log    definition.Logger
	rng    *rand.Rand
	rngMu  sync.Mutex

	mu      sync.RWMutex
	taps    map[MAC]*Tap
	nextMAC uint64

	lanesMu sync.Mutex
	lanes   map[[2]MAC]*lane

	metrics *fabricMetrics
}

// New builds a network from an immutable Config, scheduling
// deliveries on scheduler and logging through log (a default logger
// is used if log is nil).
func New(name string, cfg Config, scheduler *sched.Scheduler, log definition.Logger) *Network {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	return &Network{
		name:    name,
		config:  cfg,
		sched:   scheduler,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		taps:    make(map[MAC]*Tap),
		lanes:   make(map[[2]MAC]*lane),
		metrics: newFabricMetrics(name),
	}
}

// Collectors returns the network's prometheus collectors, for
// registration with a prometheus.Registry by the embedding harness.
func (n *Network) Collectors() []prometheus.Collector {
	return n.metrics.Collectors()
}

// Attach allocates a new Tap with a freshly issued MAC, unique within
// this network.
func (n *Network) Attach() *Tap {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextMAC++
	mac := macFromCounter(n.nextMAC)
	t := &Tap{
		network:       n,
		mac:           mac,
		subscriptions: make(map[MAC]struct{}),
	}
	n.taps[mac] = t
	return t
}

// Detach removes a tap from the network; pending in-flight
// deliveries to or from it are not cancelled retroactively.
func (n *Network) Detach(t *Tap) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.taps, t.mac)
}

func (n *Network) draw() float64 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Float64()
}

// send implements the delivery algorithm of spec §4.2 for a frame
// originating at tap `from`.
func (n *Network) send(from *Tap, f Frame) error {
	length := f.Payload.Len()
	if uint32(length) > n.config.MTU {
		return simerrors.FrameTooLarge
	}

	if n.draw() < n.config.Loss {
		n.metrics.dropped.Inc()
		return nil // silent drop
	}

	n.metrics.sent.Inc()
	delay := n.config.totalDelay(length)
	recipients := n.recipients(from, f.Dst)
	if len(recipients) == 0 {
		n.metrics.dropped.Inc()
		return nil // unknown unicast MAC or unsubscribed group: silent drop
	}

	for _, r := range recipients {
		corrupted := f.Corrupted || n.draw() < n.config.Corruption
		if corrupted {
			n.metrics.corrupted.Inc()
		}
		delivered := f
		delivered.Corrupted = corrupted
		n.scheduleDelivery(from.mac, r, delivered, delay)
	}
	return nil
}

func (n *Network) recipients(from *Tap, dst Destination) []*Tap {
	n.mu.RLock()
	defer n.mu.RUnlock()

	switch dst.Kind {
	case Unicast:
		if t, ok := n.taps[dst.MAC]; ok {
			return []*Tap{t}
		}
		return nil
	case BroadcastKind:
		out := make([]*Tap, 0, len(n.taps))
		for mac, t := range n.taps {
			if mac == from.mac {
				continue
			}
			out = append(out, t)
		}
		return out
	case MulticastKind:
		out := make([]*Tap, 0)
		for _, t := range n.taps {
			t.mu.Lock()
			_, subscribed := t.subscriptions[dst.MAC]
			t.mu.Unlock()
			if subscribed {
				out = append(out, t)
			}
		}
		return out
	default:
		return nil
	}
}

// scheduleDelivery arranges for f to reach recipient no earlier than
// its lane's reserved arrival time. Delivery rides the scheduler's
// timer wheel (sched.AfterFunc) rather than a dedicated per-lane task,
// so an arbitrary number of concurrently active lanes never pins more
// than a momentary worker-pool slot each.
func (n *Network) scheduleDelivery(from MAC, recipient *Tap, f Frame, delay time.Duration) {
	l := n.laneFor(from, recipient.mac)
	arrival := l.reserve(delay)
	deliver := func(ctx context.Context) {
		n.metrics.delivered.Inc()
		recipient.receive(f)
	}
	remaining := time.Until(arrival)
	if remaining <= 0 {
		if err := n.sched.Spawn(deliver); err != nil {
			n.log.Warnf("network %s: lane %s->%s delivery dropped: %v", n.name, from, recipient.mac, err)
		}
		return
	}
	n.sched.AfterFunc(remaining, deliver)
}

func (n *Network) laneFor(from, to MAC) *lane {
	key := [2]MAC{from, to}
	n.lanesMu.Lock()
	defer n.lanesMu.Unlock()
	l, ok := n.lanes[key]
	if !ok {
		l = newLane()
		n.lanes[key] = l
	}
	return l
}
