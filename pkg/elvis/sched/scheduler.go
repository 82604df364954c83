// Package sched implements the cooperative, multithreaded task
// runtime every other package in this module executes under: a fixed
// worker pool, timer-driven wakeups, and a single global shutdown
// token.
//
// It generalizes the teacher's core.Invoker ("Spawn(f func())" backed
// by one goroutine per call, see test/testing.go's TestInvoker) into
// a bounded pool, because the spec requires an M:N task-to-thread
// mapping and cooperative cancellation that a goroutine-per-task
// invoker does not give you: under tens of thousands of simulated
// hosts, one goroutine per task is still cheap, but bounding the
// number of tasks making forward progress at once is what keeps the
// simulation's scheduling fair and its shutdown cooperative instead
// of "let the runtime GC it".
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
)

// Task is a unit of work. It must not block outside the suspension
// points the spec allows (queue receive, timer wait, explicit yield,
// condition wait); compute sections should run to completion.
type Task func(ctx context.Context)

// Scheduler is a fixed-size worker pool executing Tasks submitted via
// Spawn or scheduled via AfterFunc. The zero value is not usable; use
// New.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	tasks chan Task
	wg    sync.WaitGroup

	timerMu sync.Mutex
	timers  map[*timerHandle]struct{}

	log definition.Logger
}

// New starts a Scheduler with the given number of worker goroutines
// and a task queue of the given depth. workers and queueDepth are
// both clamped to at least 1.
func New(workers, queueDepth int, log definition.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan Task, queueDepth),
		timers: make(map[*timerHandle]struct{}),
		log:    log,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-s.tasks:
			if !ok {
				return
			}
			// Pure compute within t runs to completion atomically;
			// t itself must honor ctx at its own suspension points.
			s.runTask(t)
		}
	}
}

// runTask executes t, recovering any panic so that one task's failure
// can never take down the worker goroutine (and with it, every other
// task's forward progress) — the isolation guarantee spec §8 property
// 5 requires between independent application tasks.
func (s *Scheduler) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("sched: task panicked, recovered: %v", r)
		}
	}()
	t(s.ctx)
}

// Spawn enqueues a task for execution on the worker pool. It returns
// simerrors.ShuttingDown if the scheduler has already been shut down.
func (s *Scheduler) Spawn(t Task) error {
	select {
	case <-s.ctx.Done():
		return simerrors.ShuttingDown
	default:
	}
	select {
	case s.tasks <- t:
		return nil
	case <-s.ctx.Done():
		return simerrors.ShuttingDown
	}
}

// timerHandle lets Shutdown stop timers that have not yet fired so
// in-flight fabric deliveries can be abandoned rather than waited on.
type timerHandle struct {
	timer *time.Timer
}

// Stop cancels the pending timer; it is safe to call multiple times.
func (h *timerHandle) Stop() {
	h.timer.Stop()
}

// AfterFunc schedules t to run on the worker pool after d elapses. It
// returns a handle that can cancel the pending wakeup. If the
// scheduler is shut down before d elapses, t is never spawned.
func (s *Scheduler) AfterFunc(d time.Duration, t Task) *timerHandle {
	h := &timerHandle{}
	h.timer = time.AfterFunc(d, func() {
		s.timerMu.Lock()
		delete(s.timers, h)
		s.timerMu.Unlock()
		_ = s.Spawn(t)
	})
	s.timerMu.Lock()
	s.timers[h] = struct{}{}
	s.timerMu.Unlock()
	return h
}

// Context returns the scheduler's shutdown context. Long-running
// tasks select on ctx.Done() as one of their suspension points.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Shutdown broadcasts the cancellation token, stops every pending
// timer (abandoning their in-flight work), and waits for workers to
// finish the task each is currently running. It does not wait for the
// task queue to drain.
func (s *Scheduler) Shutdown() {
	s.timerMu.Lock()
	for h := range s.timers {
		h.Stop()
	}
	s.timers = make(map[*timerHandle]struct{})
	s.timerMu.Unlock()

	s.cancel()
	s.wg.Wait()
}
