// Package executor drives a dependency graph's target-restricted layered
// order through a bounded worker pool, handling ready-queue propagation
// and cascading Blocked status to descendants of a failed beam. It knows
// nothing about beams, commands, or caching — those live in the root
// package, which supplies a DispatchFunc closure per run.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aurora-build/aurora/internal/dag"
)

// Outcome is what a dispatched beam decided for itself, determining
// whether its dependents are cascaded to Blocked or allowed to proceed.
type Outcome int

const (
	// OutcomeOK means the beam reached any non-blocking terminal state
	// (Succeeded, SkippedCached, SkippedCondition) — dependents may run.
	OutcomeOK Outcome = iota
	// OutcomeBlocking means the beam reached Failed — every descendant
	// within the target set must become Blocked without being dispatched.
	OutcomeBlocking
)

// DispatchFunc runs one beam to completion (condition, cache, hooks, run,
// cache record, event emission — everything C8 steps (a)-(g) describe)
// and reports the outcome that decides its dependents' fate.
type DispatchFunc func(ctx context.Context, beamName string) Outcome

// Run walks graph's target-restricted layered order: a beam is dispatched
// once every dependency within targets has reached OutcomeOK, at most
// maxParallelism beams run DispatchFunc concurrently, and a beam whose
// ancestor returned OutcomeBlocking is reported via onBlocked instead of
// ever being dispatched. Ready beams are drained from a single
// declaration-ordered FIFO queue by a fixed pool of maxParallelism
// workers, so at maxParallelism == 1 only one worker ever exists and
// beams within the same layer are dispatched in exactly the order they
// become ready — not whichever goroutine happens to win a race for a
// permit. It returns only when every target has either been dispatched
// or blocked, or the context is cancelled.
func Run(ctx context.Context, graph *dag.Graph, targets []string, maxParallelism int, dispatch DispatchFunc, onBlocked func(beamName string)) error {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	depCount := make(map[string]int, len(targets))
	dependents := make(map[string][]string, len(targets))
	for _, name := range targets {
		count := 0
		for _, dep := range graph.Dependencies(name) {
			if targetSet[dep] {
				count++
				dependents[dep] = append(dependents[dep], name)
			}
		}
		depCount[name] = count
	}

	var mu sync.Mutex
	blocked := make(map[string]bool)
	remaining := len(targets)
	closed := false

	// ready is sized to hold every target at once, so a send from inside
	// the lock below never blocks; this keeps enqueue order (declaration
	// order, since dependents lists are built in declaration order) the
	// sole determinant of dequeue order.
	ready := make(chan string, len(targets))

	closeIfDrained := func() {
		remaining--
		if remaining == 0 && !closed {
			closed = true
			close(ready)
		}
	}

	var cascadeBlock func(name string)
	cascadeBlock = func(name string) {
		mu.Lock()
		if blocked[name] {
			mu.Unlock()
			return
		}
		blocked[name] = true
		deps := dependents[name]
		closeIfDrained()
		mu.Unlock()

		onBlocked(name)
		for _, dep := range deps {
			cascadeBlock(dep)
		}
	}

	mu.Lock()
	for _, name := range targets {
		if depCount[name] == 0 {
			ready <- name
		}
	}
	mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < maxParallelism; i++ {
		g.Go(func() error {
			for name := range ready {
				select {
				case <-gctx.Done():
					// The run was cancelled before this beam could be
					// dispatched; it and everything downstream of it
					// never runs.
					cascadeBlock(name)
					continue
				default:
				}

				outcome := dispatch(gctx, name)

				mu.Lock()
				deps := dependents[name]
				mu.Unlock()

				if outcome == OutcomeBlocking {
					mu.Lock()
					closeIfDrained()
					mu.Unlock()
					for _, dep := range deps {
						cascadeBlock(dep)
					}
					continue
				}

				var toEnqueue []string
				mu.Lock()
				for _, dep := range deps {
					if blocked[dep] {
						continue
					}
					depCount[dep]--
					if depCount[dep] == 0 {
						toEnqueue = append(toEnqueue, dep)
					}
				}
				closeIfDrained()
				mu.Unlock()
				for _, dep := range toEnqueue {
					ready <- dep
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
