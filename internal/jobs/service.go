package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"clipsafe/internal/config"
	"clipsafe/internal/dispatch"
	"clipsafe/internal/limiter"
	"clipsafe/internal/logging"
	"clipsafe/internal/metrics"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/source"
	"clipsafe/internal/storage"
)

// Prober inspects a remote link before a draft is created for it.
type Prober interface {
	Probe(ctx context.Context, raw string) (source.Info, error)
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Limiter limiter.Limiter
	Storage storage.Backend
	Queue   dispatch.Queue
	Metrics metrics.Recorder
	Prober  Prober
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Service implements the job lifecycle.
type Service struct {
	store    *queue.Store
	limiter  limiter.Limiter
	storage  storage.Backend
	dispatch dispatch.Queue
	metrics  metrics.Recorder
	prober   Prober
	now      func() time.Time
	logger   *slog.Logger

	resultTTL        time.Duration
	draftTTL         time.Duration
	heartbeatTimeout time.Duration
	maxAttempts      int
	historyLimit     int
	maxBytes         int64
	maxDuration      time.Duration
}

// New wires a Service. Missing optional dependencies fall back to an
// in-memory limiter, store polling and no-op metrics.
func New(cfg *config.Config, store *queue.Store, deps Dependencies, logger *slog.Logger) *Service {
	svc := &Service{
		store:            store,
		limiter:          deps.Limiter,
		storage:          deps.Storage,
		dispatch:         deps.Queue,
		metrics:          deps.Metrics,
		prober:           deps.Prober,
		now:              deps.Clock,
		logger:           logging.NewComponentLogger(logger, "jobs"),
		resultTTL:        cfg.ResultTTL(),
		draftTTL:         cfg.DraftTTL(),
		heartbeatTimeout: time.Duration(cfg.Worker.HeartbeatTimeout) * time.Second,
		maxAttempts:      cfg.Worker.MaxAttempts,
		historyLimit:     cfg.Limits.HistoryLimit,
		maxBytes:         cfg.MaxFileBytes(),
		maxDuration:      cfg.MaxDuration(),
	}
	if svc.limiter == nil {
		svc.limiter = limiter.NewMemory(cfg.Limits.JobsPerHour, limiter.Window)
	}
	if svc.dispatch == nil {
		svc.dispatch = dispatch.NewStoreQueue(store, dispatch.DefaultBatch)
	}
	if svc.metrics == nil {
		svc.metrics = metrics.Nop{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.historyLimit <= 0 {
		svc.historyLimit = 20
	}
	return svc
}

// Storage returns the artifact backend the service seals and deletes.
func (s *Service) Storage() storage.Backend {
	return s.storage
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Get returns the job or ErrNotFound.
func (s *Service) Get(ctx context.Context, jobID string) (*queue.Job, error) {
	job, err := s.store.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", "job "+jobID, nil)
	}
	return job, nil
}

// deleteArtifacts removes the job's namespace after a cancellation. The
// transition has already committed, so failures are logged for the sweep.
func (s *Service) deleteArtifacts(ctx context.Context, job *queue.Job) {
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), s.logger)
	if s.storage != nil {
		if err := s.storage.Delete(ctx, job.ID); err != nil {
			logging.WarnWithContext(logger, "artifact deletion failed", "artifact_delete_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the namespace stays until removed manually"),
			)
			return
		}
	}
	if err := s.store.MarkArtifactsDeleted(ctx, job.ID, s.clock()); err != nil {
		logging.WarnWithContext(logger, "artifact bookkeeping failed", "artifact_mark_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database connectivity"),
		)
	}
}

// seal records the namespace expiry after a terminal transition.
func (s *Service) seal(ctx context.Context, job *queue.Job) {
	if s.storage == nil || job.ExpiresAt == nil {
		return
	}
	if err := s.storage.Seal(ctx, job.ID, *job.ExpiresAt); err != nil {
		logging.ErrorWithContext(logging.WithContext(services.WithJobID(ctx, job.ID), s.logger),
			"sealing storage namespace failed", "storage_seal_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "artifacts will not expire until the namespace is sealed"),
			logging.String(logging.FieldImpact, "storage is retained past its ttl"),
		)
	}
}

// Remaining reports how many jobs userID may still queue this hour.
func (s *Service) Remaining(ctx context.Context, userID string) (int, error) {
	return s.limiter.Remaining(ctx, strings.TrimSpace(userID), s.clock())
}
