package jobs

import (
	"context"
	"time"

	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
)

// SweepResult summarises one TTL sweep.
type SweepResult struct {
	ArtifactsRemoved int
	JobsPurged       int64
}

// ExpireAbandonedDrafts cancels drafts and confirmed jobs idle longer than
// the draft TTL and deletes their uploads. It returns how many it cancelled.
func (s *Service) ExpireAbandonedDrafts(ctx context.Context, now time.Time) (int, error) {
	if s.draftTTL <= 0 {
		return 0, nil
	}
	stale, err := s.store.StaleDrafts(ctx, now.Add(-s.draftTTL))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, job := range stale {
		cancelled, err := s.store.Cancel(ctx, job.ID, now)
		if err != nil {
			if services.KindOf(err) == services.KindInvalidTransition {
				continue
			}
			return expired, err
		}
		s.deleteArtifacts(ctx, cancelled)
		expired++
	}
	if expired > 0 {
		logging.WithContext(ctx, s.logger).Info("abandoned drafts expired",
			logging.Int("count", expired),
			logging.String(logging.FieldEventType, "drafts_expired"),
		)
	}
	return expired, nil
}

// Reclaim returns jobs whose worker stopped heartbeating to the queue, or
// fails them once their attempts are used up.
func (s *Service) Reclaim(ctx context.Context, now time.Time) (queue.ReclaimResult, error) {
	if s.heartbeatTimeout <= 0 {
		return queue.ReclaimResult{}, nil
	}
	result, err := s.store.ReclaimStale(ctx, now.Add(-s.heartbeatTimeout), s.maxAttempts, now, now.Add(s.resultTTL))
	if err != nil {
		return result, err
	}
	for _, id := range result.Requeued {
		jobCtx := services.WithJobID(ctx, id)
		s.announce(jobCtx, id)
		logging.WarnWithContext(logging.WithContext(jobCtx, s.logger), "stale job requeued", "job_reclaimed",
			logging.String(logging.FieldErrorHint, "a worker stopped heartbeating"),
		)
	}
	for _, id := range result.Failed {
		job, err := s.store.Get(ctx, id)
		if err != nil || job == nil {
			continue
		}
		jobCtx := services.WithJobID(ctx, id)
		s.seal(jobCtx, job)
		s.metrics.JobFailed(string(job.Operation), job.FailureKind, elapsed(job))
		logging.WarnWithContext(logging.WithContext(jobCtx, s.logger), "stale job failed", "job_abandoned",
			logging.Int("attempts", job.Attempts),
			logging.String(logging.FieldErrorHint, "raise worker.heartbeat_timeout if jobs are slow rather than stuck"),
		)
	}
	return result, nil
}

// Sweep deletes expired artifacts and marks their jobs purged.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	if s.storage != nil {
		removed, err := s.storage.CleanupExpired(ctx, now)
		result.ArtifactsRemoved = removed
		if err != nil {
			return result, err
		}
	}
	purged, err := s.store.MarkExpiredPurged(ctx, now)
	if err != nil {
		return result, err
	}
	result.JobsPurged = purged
	if result.ArtifactsRemoved > 0 || purged > 0 {
		logging.WithContext(ctx, s.logger).Info("ttl sweep removed artifacts",
			logging.Int("artifacts", result.ArtifactsRemoved),
			logging.Int64("jobs", purged),
			logging.String(logging.FieldEventType, "ttl_sweep"),
		)
	}
	return result, nil
}

// PublishQueueDepth reports the number of queued jobs to the metrics sink.
func (s *Service) PublishQueueDepth(ctx context.Context) error {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	s.metrics.QueueDepth(stats[queue.StateQueued])
	return nil
}

// ActiveJobIDs lists jobs whose scratch space must be kept.
func (s *Service) ActiveJobIDs(ctx context.Context) (map[string]struct{}, error) {
	return s.store.ActiveIDs(ctx)
}

// RecordArtifact books an object written on the job's behalf.
func (s *Service) RecordArtifact(ctx context.Context, artifact queue.Artifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = s.clock()
	}
	return s.store.RecordArtifact(ctx, artifact)
}

// ForgetArtifact marks a single artifact as deleted.
func (s *Service) ForgetArtifact(ctx context.Context, jobID, name string) error {
	return s.store.MarkArtifactDeleted(ctx, jobID, name, s.clock())
}
