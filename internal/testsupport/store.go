package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"clipsafe/internal/config"
	"clipsafe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDraft inserts a draft job owned by userID with an upload source.
func NewDraft(t testing.TB, store *queue.Store, userID string) *queue.Job {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.EnsureUser(ctx, userID, now); err != nil {
		t.Fatalf("store.EnsureUser: %v", err)
	}
	job := &queue.Job{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		CreatedAt: now,
		Source:    queue.Source{Kind: queue.SourceUpload, Name: "source.mp4", Filename: "source.mp4"},
	}
	if err := store.InsertDraft(ctx, job); err != nil {
		t.Fatalf("store.InsertDraft: %v", err)
	}
	return job
}

// NewQueued inserts a job and walks it through confirmation into queued.
func NewQueued(t testing.TB, store *queue.Store, userID string, op queue.Operation, params queue.Params) *queue.Job {
	t.Helper()

	ctx := context.Background()
	job := NewDraft(t, store, userID)
	now := time.Now().UTC()
	if _, err := store.ConfirmRights(ctx, job.ID, now); err != nil {
		t.Fatalf("store.ConfirmRights: %v", err)
	}
	queued, err := store.Enqueue(ctx, job.ID, op, params, now)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return queued
}
