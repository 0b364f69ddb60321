// Package runtime implements the step runtime (spec §4.4): the
// sequential driver that invokes steps in declared order against a
// shared store, plus RunMP, the fan-out helper a step uses to
// parallelise over a homogeneous batch of items with a fixed-size
// worker pool. Grounded on the teacher's
// internal/indexing/concurrent_operations.go worker-pool sizing, with
// golang.org/x/sync/errgroup providing the bounded fan-out, and every
// item's error collected into one aggregate, in place of the teacher's
// bespoke channel/WaitGroup plumbing.
package runtime

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	buildErrors "github.com/scidev/fab/internal/errors"
	"github.com/scidev/fab/internal/store"
)

// Step is a named operation over the store; it reads and writes
// collections (spec §4.4). Run takes only a context and the store: a
// step's configuration is bound in the closure that builds it, so this
// package has no dependency on internal/config.
type Step struct {
	Name string
	Run  func(ctx context.Context, s *store.Store) error
}

// Driver runs steps strictly in declared order; it never reorders them
// (spec §4.4). Between steps, outputs of step k are fully observable
// before step k+1 begins (spec §5, "Ordering guarantees").
type Driver struct {
	steps []Step
}

func NewDriver() *Driver { return &Driver{} }

func (d *Driver) Add(step Step) { d.steps = append(d.steps, step) }

// RunAll runs every step in order, stopping at the first step whose Run
// returns an error.
func (d *Driver) RunAll(ctx context.Context, s *store.Store) error {
	for _, step := range d.steps {
		if err := step.Run(ctx, s); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// WorkerCount is the fixed pool size RunMP uses: the available CPU
// count, per spec §5 ("Scheduling model").
func WorkerCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

// RunMP evaluates fn over items concurrently with a worker pool sized
// to WorkerCount, collecting results preserving input order (spec §4.4,
// §5 "Ordering guarantees": no ordering within a batch, but result
// collection preserves input order). Errors from any worker are
// aggregated; every worker is allowed to finish (errgroup's bounded
// Group does not cancel siblings unless fn itself observes ctx.Done).
func RunMP[I any, O any](ctx context.Context, stage string, items []I, fn func(ctx context.Context, item I) (O, error)) ([]O, error) {
	results := make([]O, len(items))
	errs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(WorkerCount())

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := fn(gctx, item)
			if err != nil {
				errs[i] = err
				return nil // don't cancel siblings; item-level failures are aggregated
			}
			results[i] = out
			return nil
		})
	}
	// g.Wait's own error is unused: no step function returns an error
	// directly from errgroup.Go above, failures are captured per-item.
	_ = g.Wait()

	if agg := buildErrors.NewAggregate(stage, errs); agg != nil {
		return results, agg
	}
	return results, nil
}

// SortedKeys returns the keys of a map[string]T in sorted order, the
// small helper every step uses to keep collection iteration
// deterministic at observable boundaries (spec §9 "Determinism").
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
