package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestSpawn_RunsTask(t *testing.T) {
	s := New(4, 16, nil)
	defer s.Shutdown()

	done := make(chan struct{})
	if err := s.Spawn(func(ctx context.Context) { close(done) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSpawn_ManyTasksAllRun(t *testing.T) {
	const n = 500
	s := New(8, n, nil)
	defer s.Shutdown()

	var count int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := s.Spawn(func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all tasks completed")
	}
	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("expected %d completions, got %d", n, got)
	}
}

func TestAfterFunc_FiresAfterDelay(t *testing.T) {
	s := New(2, 8, nil)
	defer s.Shutdown()

	start := time.Now()
	fired := make(chan time.Time, 1)
	s.AfterFunc(50*time.Millisecond, func(ctx context.Context) {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		if at.Sub(start) < 40*time.Millisecond {
			t.Fatalf("fired too early: %v", at.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestAfterFunc_StoppedTimerNeverFires(t *testing.T) {
	s := New(2, 8, nil)
	defer s.Shutdown()

	fired := make(chan struct{}, 1)
	h := s.AfterFunc(100*time.Millisecond, func(ctx context.Context) {
		fired <- struct{}{}
	})
	h.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShutdown_RejectsNewSpawns(t *testing.T) {
	s := New(2, 8, nil)
	s.Shutdown()

	if err := s.Spawn(func(ctx context.Context) {}); err == nil {
		t.Fatal("expected error spawning after shutdown")
	}
}

func TestShutdown_LeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(4, 16, nil)
	for i := 0; i < 20; i++ {
		_ = s.Spawn(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
		})
	}
	s.Shutdown()
}
