package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/scidev/fab/internal/store"
	"go.uber.org/goleak"
)

// TestMain guards RunMP's worker pool: every test in this package spins up
// goroutines, and a leaked worker here would silently hang future builds.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDriverRunsStepsInOrder(t *testing.T) {
	d := NewDriver()
	var order []string
	d.Add(Step{Name: "one", Run: func(ctx context.Context, s *store.Store) error {
		order = append(order, "one")
		return nil
	}})
	d.Add(Step{Name: "two", Run: func(ctx context.Context, s *store.Store) error {
		order = append(order, "two")
		return nil
	}})
	d.Add(Step{Name: "three", Run: func(ctx context.Context, s *store.Store) error {
		order = append(order, "three")
		return nil
	}})

	if err := d.RunAll(context.Background(), store.New()); err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("expected steps in declared order %v, got %v", want, order)
		}
	}
}

func TestDriverStopsAtFirstFailure(t *testing.T) {
	d := NewDriver()
	ran := 0
	d.Add(Step{Name: "ok", Run: func(ctx context.Context, s *store.Store) error {
		ran++
		return nil
	}})
	d.Add(Step{Name: "fails", Run: func(ctx context.Context, s *store.Store) error {
		ran++
		return fmt.Errorf("boom")
	}})
	d.Add(Step{Name: "never", Run: func(ctx context.Context, s *store.Store) error {
		ran++
		return nil
	}})

	if err := d.RunAll(context.Background(), store.New()); err == nil {
		t.Fatalf("expected an error from the failing step")
	}
	if ran != 2 {
		t.Fatalf("expected exactly 2 steps to run (stopping before the third), got %d", ran)
	}
}

func TestRunMPPreservesInputOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1, 0, 9, 8, 7, 6}
	results, err := RunMP(context.Background(), "double", items, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range items {
		if results[i] != n*2 {
			t.Fatalf("expected result order to match input order, got %v for input %v", results, items)
		}
	}
}

func TestRunMPAggregatesAllFailuresButDrainsEveryWorker(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var ranCount int32
	results, err := RunMP(context.Background(), "stage", items, func(ctx context.Context, n int) (int, error) {
		atomic.AddInt32(&ranCount, 1)
		if n%2 == 0 {
			return 0, fmt.Errorf("item %d failed", n)
		}
		return n, nil
	})
	if err == nil {
		t.Fatalf("expected an aggregated error")
	}
	if int(atomic.LoadInt32(&ranCount)) != len(items) {
		t.Fatalf("expected every worker to run despite failures, got %d of %d", ranCount, len(items))
	}
	if results[0] != 1 || results[2] != 3 || results[4] != 5 {
		t.Fatalf("expected successful items to still produce results: %v", results)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"c": 3, "a": 1, "b": 2}
	keys := SortedKeys(m)
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if keys[i] != w {
			t.Fatalf("expected sorted keys %v, got %v", want, keys)
		}
	}
}

func TestWorkerCountAtLeastOne(t *testing.T) {
	if WorkerCount() < 1 {
		t.Fatalf("expected WorkerCount to be at least 1")
	}
}
