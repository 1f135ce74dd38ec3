package queue_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/testsupport"
)

// TestRandomTransitionSequences drives jobs through random legal and illegal
// transitions and checks the record invariants after every step: a result
// exists exactly when the job is done, and no job reaches queued without
// having been confirmed first.
func TestRandomTransitionSequences(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 42))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	const jobCount = 6
	ids := make([]string, 0, jobCount)
	confirmed := make(map[string]bool, jobCount)
	for i := 0; i < jobCount; i++ {
		ids = append(ids, testsupport.NewDraft(t, store, "prop-user").ID)
	}

	actions := []string{"confirm", "cancel", "enqueue", "claim", "complete", "fail", "reclaim"}
	for step := 0; step < 400; step++ {
		clock = clock.Add(time.Minute)
		id := ids[rng.IntN(len(ids))]
		action := actions[rng.IntN(len(actions))]

		var err error
		switch action {
		case "confirm":
			_, err = store.ConfirmRights(ctx, id, clock)
		case "cancel":
			_, err = store.Cancel(ctx, id, clock)
		case "enqueue":
			_, err = store.Enqueue(ctx, id, queue.OpKeepOriginal, queue.Params{}, clock)
		case "claim":
			_, _, err = store.Claim(ctx, id, "worker-a", clock)
		case "complete":
			_, err = store.Complete(ctx, id, "worker-a", queue.Result{Name: "out.mp4", SizeBytes: 1}, clock, clock.Add(24*time.Hour))
		case "fail":
			_, err = store.Fail(ctx, id, "worker-a", services.KindToolExecutionFailed, "exit 1", clock, clock.Add(24*time.Hour))
		case "reclaim":
			_, err = store.ReclaimStale(ctx, clock.Add(time.Hour), 2, clock, clock.Add(24*time.Hour))
		}
		if err != nil && !errors.Is(err, services.ErrInvalidTransition) {
			t.Fatalf("step %d %s on %s: unexpected error %v", step, action, id, err)
		}

		for _, jobID := range ids {
			job, err := store.Get(ctx, jobID)
			if err != nil || job == nil {
				t.Fatalf("step %d: Get %s = %v, %v", step, jobID, job, err)
			}
			if (job.Result != nil) != (job.State == queue.StateDone) {
				t.Fatalf("step %d %s: job %s in %s has result %#v", step, action, jobID, job.State, job.Result)
			}
			if job.State == queue.StateConfirmed {
				confirmed[jobID] = true
			}
			if job.State == queue.StateQueued && !confirmed[jobID] {
				t.Fatalf("step %d: job %s reached queued without confirmation", step, jobID)
			}
		}
	}
}
