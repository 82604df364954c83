package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
)

type fakeApp struct {
	ran func(ctx context.Context, m *core.Machine) error
}

func (f fakeApp) Run(ctx context.Context, m *core.Machine) error {
	return f.ran(ctx, m)
}

func TestRun_WaitsForAllApplications(t *testing.T) {
	s := sched.New(4, 64, nil)
	t.Cleanup(s.Shutdown)

	m, err := core.New("solo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var completed int32
	app := fakeApp{ran: func(ctx context.Context, m *core.Machine) error {
		atomic.AddInt32(&completed, 1)
		return nil
	}}

	specs := []MachineSpec{{Machine: m, Applications: []Application{app, app, app}}}
	if err := Run(context.Background(), s, nil, nil, specs, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&completed); got != 3 {
		t.Fatalf("expected 3 applications to complete, got %d", got)
	}
}

func TestRun_SurfacesFirstApplicationError(t *testing.T) {
	s := sched.New(4, 64, nil)
	t.Cleanup(s.Shutdown)

	m, err := core.New("solo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	boom := errors.New("application failed")
	failing := fakeApp{ran: func(ctx context.Context, m *core.Machine) error { return boom }}
	slow := fakeApp{ran: func(ctx context.Context, m *core.Machine) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	specs := []MachineSpec{{Machine: m, Applications: []Application{failing, slow}}}
	if err := Run(context.Background(), s, nil, nil, specs, nil); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestRun_NoApplicationsReturnsImmediately(t *testing.T) {
	s := sched.New(2, 8, nil)
	t.Cleanup(s.Shutdown)

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), s, nil, nil, nil, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return with no applications")
	}
}
