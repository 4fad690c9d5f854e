package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestRunLifecycle(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.StartRun(ctx, "run-1", "4.2.1-voxel"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := store.AppendStep(ctx, "run-1", "CheckTools", EventStepStarted, ""); err != nil {
		t.Fatalf("append step: %v", err)
	}
	if err := store.AppendStep(ctx, "run-1", "CheckTools", EventStepCompleted, ""); err != nil {
		t.Fatalf("append step: %v", err)
	}
	if err := store.FinishRun(ctx, "run-1", OutcomeCompleted); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].BuildID != "4.2.1-voxel" {
		t.Errorf("expected build_id 4.2.1-voxel, got %s", runs[0].BuildID)
	}
	if runs[0].Outcome != OutcomeCompleted {
		t.Errorf("expected outcome %s, got %s", OutcomeCompleted, runs[0].Outcome)
	}
	if runs[0].FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestEventsForRunOrdering(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.StartRun(ctx, "run-2", "4.3-base"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	steps := []string{"CheckTools", "ResolveIdentity", "BuildTooling"}
	for _, s := range steps {
		if err := store.AppendStep(ctx, "run-2", s, EventStepStarted, ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.AppendStep(ctx, "run-2", "BuildTooling", EventStepFailed, "exit code 2"); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.EventsForRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("events for run: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i, s := range steps {
		if events[i].Step != s {
			t.Errorf("event %d: expected step %s, got %s", i, s, events[i].Step)
		}
	}
	last := events[3]
	if last.Type != EventStepFailed || last.Detail != "exit code 2" {
		t.Errorf("expected failure event with detail, got %+v", last)
	}
}

func TestInMemoryVisibleToConcurrentReaders(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.StartRun(ctx, "run-3", "4.2-base"); err != nil {
		t.Fatalf("start run: %v", err)
	}

	// Concurrent readers must all observe the same database; a second
	// pooled connection to ":memory:" would see an empty one.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs, err := store.RecentRuns(ctx, 10)
			if err != nil {
				errs <- err
				return
			}
			if len(runs) != 1 {
				errs <- fmt.Errorf("expected 1 run, got %d", len(runs))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent read: %v", err)
	}
}

func TestRecentRunsLimit(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.StartRun(ctx, id, "4.3-base"); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}
	runs, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit to apply, got %d runs", len(runs))
	}
}
