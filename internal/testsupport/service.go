package testsupport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"clipsafe/internal/config"
	"clipsafe/internal/jobs"
	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/storage"
)

// Clock is a settable time source for lifecycle tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ServiceHarness bundles a jobs.Service with the pieces tests inspect.
type ServiceHarness struct {
	Config  *config.Config
	Store   *queue.Store
	Storage *storage.Local
	Clock   *Clock
	Service *jobs.Service
}

// NewService wires a jobs.Service over SQLite, local storage and the
// in-memory limiter. deps may pre-set Prober, Queue or Metrics.
func NewService(t testing.TB, cfg *config.Config, deps jobs.Dependencies) *ServiceHarness {
	t.Helper()

	store := MustOpenStore(t, cfg)
	local, err := storage.NewLocal(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}
	clock := NewClock(time.Now())
	deps.Storage = local
	if deps.Clock == nil {
		deps.Clock = clock.Now
	}
	return &ServiceHarness{
		Config:  cfg,
		Store:   store,
		Storage: local,
		Clock:   clock,
		Service: jobs.New(cfg, store, deps, logging.NewNop()),
	}
}

// Confirmed creates a draft for userID from body and confirms it.
func (h *ServiceHarness) Confirmed(t testing.TB, userID string, body []byte) *queue.Job {
	t.Helper()

	ctx := context.Background()
	job := h.Draft(t, userID, body)
	confirmed, err := h.Service.ConfirmRights(ctx, job.ID, true)
	if err != nil {
		t.Fatalf("ConfirmRights: %v", err)
	}
	return confirmed
}

// Draft creates an upload draft named clip.mp4.
func (h *ServiceHarness) Draft(t testing.TB, userID string, body []byte) *queue.Job {
	t.Helper()

	job, err := h.Service.CreateDraft(context.Background(), userID, jobs.NewSource{
		Filename:  "clip.mp4",
		Body:      bytes.NewReader(body),
		SizeBytes: int64(len(body)),
		MIME:      "video/mp4",
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	return job
}
