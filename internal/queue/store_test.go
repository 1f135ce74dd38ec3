package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/testsupport"
)

func floatPtr(v float64) *float64 { return &v }

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	version, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected schema version >= 1, got %d", version)
	}
	applied, err := store.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected no pending migrations, got %v", applied)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	job, err := store.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %#v", job)
	}
}

func TestLifecycleResultSetOnlyWhenDone(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := testsupport.NewDraft(t, store, "user-1")
	assertNoResult := func(j *queue.Job) {
		t.Helper()
		if j.Result != nil {
			t.Fatalf("job in %s carries a result: %#v", j.State, j.Result)
		}
	}
	assertNoResult(job)

	confirmed, err := store.ConfirmRights(ctx, job.ID, now)
	if err != nil {
		t.Fatalf("ConfirmRights failed: %v", err)
	}
	if confirmed.State != queue.StateConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected confirmed job: %#v", confirmed)
	}
	assertNoResult(confirmed)

	params := queue.Params{Start: floatPtr(2), End: floatPtr(5)}
	queued, err := store.Enqueue(ctx, job.ID, queue.OpTrim, params, now)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if queued.Operation != queue.OpTrim || queued.Params.Start == nil || *queued.Params.End != 5 {
		t.Fatalf("operation or params not persisted: %#v", queued)
	}
	assertNoResult(queued)

	claimed, ok, err := store.Claim(ctx, job.ID, "worker-a", now)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if claimed.Attempts != 1 || claimed.WorkerID != "worker-a" || claimed.LastHeartbeat == nil {
		t.Fatalf("unexpected claimed job: %#v", claimed)
	}
	assertNoResult(claimed)

	expires := now.Add(24 * time.Hour)
	done, err := store.Complete(ctx, job.ID, "worker-a", queue.Result{Name: "source_cut.mp4", SizeBytes: 10}, now, expires)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.State != queue.StateDone || done.Result == nil || done.Result.Name != "source_cut.mp4" {
		t.Fatalf("unexpected done job: %#v", done)
	}
	if done.ExpiresAt == nil || !done.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expires_at %v, got %v", expires, done.ExpiresAt)
	}

	if _, err := store.Fail(ctx, job.ID, "worker-a", services.KindTimeout, "late", now, expires); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition failing a done job, got %v", err)
	}
}

func TestFailedJobHasNoResult(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := testsupport.NewQueued(t, store, "user-1", queue.OpRemux, queue.Params{Container: "mkv"})
	if _, ok, err := store.Claim(ctx, job.ID, "w", now); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	failed, err := store.Fail(ctx, job.ID, "w", services.KindToolExecutionFailed, "exit status 1", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.Result != nil || failed.FailureKind != services.KindToolExecutionFailed || failed.FailureReason != "exit status 1" {
		t.Fatalf("unexpected failed job: %#v", failed)
	}
	if failed.CompletedAt == nil || failed.ExpiresAt == nil {
		t.Fatal("expected completed_at and expires_at on failed job")
	}
}

func TestEnqueueRequiresConfirmedRights(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewDraft(t, store, "user-1")
	_, err := store.Enqueue(ctx, job.ID, queue.OpRemux, queue.Params{Container: "mp4"}, time.Now())
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.State != queue.StateDraft || fetched.Operation != "" {
		t.Fatalf("failed enqueue changed the job: %#v", fetched)
	}
}

func TestTransitionOnMissingJobIsNotFound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := store.ConfirmRights(context.Background(), "missing", time.Now())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCancelOnlyFromOpenStates(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	draft := testsupport.NewDraft(t, store, "user-1")
	cancelled, err := store.Cancel(ctx, draft.ID, now)
	if err != nil {
		t.Fatalf("Cancel draft failed: %v", err)
	}
	if cancelled.State != queue.StateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.State)
	}
	if _, err := store.ConfirmRights(ctx, draft.ID, now); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected cancelled job to stay cancelled, got %v", err)
	}

	queued := testsupport.NewQueued(t, store, "user-2", queue.OpThumbnail, queue.Params{})
	if _, err := store.Cancel(ctx, queued.ID, now); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition cancelling a queued job, got %v", err)
	}
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewQueued(t, store, "user-1", queue.OpRemux, queue.Params{Container: "mp4"})

	const claimants = 16
	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, claimants)
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, ok, err := store.Claim(ctx, job.ID, "worker-"+string(rune('a'+n)), time.Now())
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Claim returned error: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.State != queue.StateProcessing || fetched.Attempts != 1 {
		t.Fatalf("losers must not change the job: %#v", fetched)
	}
}

func TestCompleteRequiresOwningWorker(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := testsupport.NewQueued(t, store, "user-1", queue.OpRemux, queue.Params{Container: "mp4"})
	if _, ok, err := store.Claim(ctx, job.ID, "owner", now); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	_, err := store.Complete(ctx, job.ID, "intruder", queue.Result{Name: "out.mp4"}, now, now.Add(time.Hour))
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for foreign worker, got %v", err)
	}
	alive, err := store.UpdateHeartbeat(ctx, job.ID, "intruder", now)
	if err != nil || alive {
		t.Fatalf("UpdateHeartbeat by foreign worker = %v, %v", alive, err)
	}
	alive, err = store.UpdateHeartbeat(ctx, job.ID, "owner", now)
	if err != nil || !alive {
		t.Fatalf("UpdateHeartbeat by owner = %v, %v", alive, err)
	}
}

func TestReclaimStaleRequeuesThenFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	start := time.Now().UTC()

	params := queue.Params{Start: floatPtr(1), End: floatPtr(3), Smart: true}
	job := testsupport.NewQueued(t, store, "user-1", queue.OpTrim, params)
	if _, ok, err := store.Claim(ctx, job.ID, "w1", start); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}

	later := start.Add(10 * time.Minute)
	cutoff := later.Add(-2 * time.Minute)
	result, err := store.ReclaimStale(ctx, cutoff, 2, later, later.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if len(result.Requeued) != 1 || result.Requeued[0] != job.ID || len(result.Failed) != 0 {
		t.Fatalf("unexpected reclaim result: %#v", result)
	}
	requeued, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if requeued.State != queue.StateQueued || requeued.WorkerID != "" {
		t.Fatalf("expected queued job without worker, got %#v", requeued)
	}
	if requeued.Params.Start == nil || *requeued.Params.Start != 1 || !requeued.Params.Smart {
		t.Fatalf("expected parameters preserved, got %#v", requeued.Params)
	}

	if _, ok, err := store.Claim(ctx, job.ID, "w2", later); err != nil || !ok {
		t.Fatalf("second Claim = %v, %v", ok, err)
	}
	final := later.Add(10 * time.Minute)
	result, err = store.ReclaimStale(ctx, final.Add(-2*time.Minute), 2, final, final.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("second ReclaimStale failed: %v", err)
	}
	if len(result.Failed) != 1 || len(result.Requeued) != 0 {
		t.Fatalf("expected job failed after attempts exhausted, got %#v", result)
	}
	failed, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.State != queue.StateFailed || failed.FailureKind != services.KindTimeout || failed.FailureReason != queue.ReclaimReason {
		t.Fatalf("unexpected failed job: %#v", failed)
	}
	if failed.Attempts != 2 || failed.ExpiresAt == nil {
		t.Fatalf("expected 2 attempts and expiry, got %#v", failed)
	}
}

func TestReclaimIgnoresFreshHeartbeat(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := testsupport.NewQueued(t, store, "user-1", queue.OpThumbnail, queue.Params{})
	if _, ok, err := store.Claim(ctx, job.ID, "w", now); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	result, err := store.ReclaimStale(ctx, now.Add(-time.Minute), 2, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if len(result.Requeued)+len(result.Failed) != 0 {
		t.Fatalf("expected no reclaim, got %#v", result)
	}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, testsupport.NewDraft(t, store, "user-1").ID)
		time.Sleep(2 * time.Millisecond)
	}
	testsupport.NewDraft(t, store, "user-2")

	jobs, err := store.ListByOwner(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != ids[2] || jobs[1].ID != ids[1] {
		t.Fatalf("unexpected history order: %v", jobs)
	}

	open, err := store.OpenDrafts(ctx, "user-2")
	if err != nil || len(open) != 1 {
		t.Fatalf("OpenDrafts = %d, %v", len(open), err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StateDraft] != 4 {
		t.Fatalf("expected 4 drafts, got %v", stats)
	}
}

func TestQueuedIDsOldestFirst(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	first := testsupport.NewQueued(t, store, "user-1", queue.OpRemux, queue.Params{Container: "mp4"})
	time.Sleep(2 * time.Millisecond)
	second := testsupport.NewQueued(t, store, "user-2", queue.OpRemux, queue.Params{Container: "mp4"})

	ids, err := store.QueuedIDs(context.Background(), 5)
	if err != nil {
		t.Fatalf("QueuedIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("unexpected queue order: %v", ids)
	}
	active, err := store.ActiveIDs(context.Background())
	if err != nil || len(active) != 2 {
		t.Fatalf("ActiveIDs = %v, %v", active, err)
	}
}

func TestMarkExpiredPurged(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := testsupport.NewQueued(t, store, "user-1", queue.OpThumbnail, queue.Params{})
	if _, ok, err := store.Claim(ctx, job.ID, "w", now); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	expires := now.Add(24 * time.Hour)
	if _, err := store.Complete(ctx, job.ID, "w", queue.Result{Name: "thumb.jpg"}, now, expires); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := store.RecordArtifact(ctx, queue.Artifact{JobID: job.ID, Kind: queue.ArtifactResult, Name: "thumb.jpg", Location: job.ID + "/thumb.jpg", SizeBytes: 3}); err != nil {
		t.Fatalf("RecordArtifact failed: %v", err)
	}

	marked, err := store.MarkExpiredPurged(ctx, expires.Add(-time.Minute))
	if err != nil || marked != 0 {
		t.Fatalf("MarkExpiredPurged before expiry = %d, %v", marked, err)
	}
	marked, err = store.MarkExpiredPurged(ctx, expires.Add(time.Minute))
	if err != nil || marked != 1 {
		t.Fatalf("MarkExpiredPurged after expiry = %d, %v", marked, err)
	}
	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.PurgedAt == nil || fetched.Result == nil || fetched.State != queue.StateDone {
		t.Fatalf("expected purged done job keeping its result, got %#v", fetched)
	}
	artifacts, err := store.Artifacts(ctx, job.ID)
	if err != nil || len(artifacts) != 1 || artifacts[0].DeletedAt == nil {
		t.Fatalf("expected artifact marked deleted, got %#v, %v", artifacts, err)
	}
	marked, err = store.MarkExpiredPurged(ctx, expires.Add(2*time.Minute))
	if err != nil || marked != 0 {
		t.Fatalf("second MarkExpiredPurged = %d, %v", marked, err)
	}
}

func TestPostgresClaimRace(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPostgresFromEnv())
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewQueued(t, store, "pg-user", queue.OpRemux, queue.Params{Container: "mp4"})

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Claim(ctx, job.ID, "pg-worker", time.Now()); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
