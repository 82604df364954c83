// Package engine implements the simulation's entry point (spec §6
// "Startup"/"Shutdown"): wiring a set of machines and networks together,
// spawning each application's entry task, and awaiting either their
// completion or a shutdown signal.
package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/network"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
)

// Application is a machine's entry task: the behavior an NDL
// `[Applications]` block (out of core scope) ultimately resolves to.
// Run is spawned once on the scheduler per machine that declares it
// and should observe ctx.Done() at its own suspension points, per the
// cooperative cancellation contract (spec §4.5/§5).
type Application interface {
	Run(ctx context.Context, m *core.Machine) error
}

// MachineSpec pairs one constructed Machine with the applications that
// run on it. The core never constructs a Machine's protocol set on the
// engine's behalf — that happens before Run is called — but the engine
// does own spawning and tracking the applications themselves.
type MachineSpec struct {
	Machine      *core.Machine
	Applications []Application
}

// runApplication invokes app.Run, converting a panic into an error
// instead of letting it escape the scheduler task. The scheduler's own
// worker loop already recovers task panics (spec §8 property 5,
// "isolation"), but that recovery alone would leave Run's done channel
// never written to, hanging this application's errgroup goroutine
// forever; recovering here instead keeps the failure local and lets
// the rest of the topology run to completion.
func runApplication(app Application, ctx context.Context, m *core.Machine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()
	return app.Run(ctx, m)
}

// Run wires every network's prometheus collectors into registry (if
// non-nil), spawns each machine's applications on scheduler, and
// blocks until every application has returned, one application has
// returned an error, or ctx is cancelled. It returns the first non-nil
// application error, if any. The first error ends the wait: Run does
// not wait for the remaining applications, and the scheduler.Shutdown
// call that follows cancels the context they run under.
func Run(ctx context.Context, scheduler *sched.Scheduler, log definition.Logger, networks []*network.Network, machines []MachineSpec, registry *prometheus.Registry) error {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	if registry != nil {
		for _, n := range networks {
			for _, c := range n.Collectors() {
				_ = registry.Register(c)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	spawned := 0
	for _, spec := range machines {
		spec := spec
		for _, app := range spec.Applications {
			app := app
			spawned++
			// errgroup owns fan-out/error-aggregation bookkeeping; the
			// actual task still executes on the scheduler's bounded
			// worker pool, the one substrate spec §4.5 allows, via a
			// result channel bridging scheduler.Task's signature (no
			// return value) back to the error errgroup.Go expects.
			g.Go(func() error {
				done := make(chan error, 1)
				spawnErr := scheduler.Spawn(func(taskCtx context.Context) {
					done <- runApplication(app, taskCtx, spec.Machine)
				})
				if spawnErr != nil {
					return spawnErr
				}
				select {
				case err := <-done:
					return err
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
	}
	log.Infof("engine: started %d application task(s) across %d machine(s)", spawned, len(machines))

	err := g.Wait()
	scheduler.Shutdown()
	if err != nil {
		log.Errorf("engine: application error: %v", err)
	}
	return err
}
