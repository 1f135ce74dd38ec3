package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipsafe/internal/ffmpeg"
	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
)

// maxReasonLen bounds the failure reason kept on a job.
const maxReasonLen = 512

// ConfirmRights records the user's rights acknowledgement. A refusal
// cancels the draft and deletes what it uploaded.
func (s *Service) ConfirmRights(ctx context.Context, jobID string, accept bool) (*queue.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)
	if job.State != queue.StateDraft {
		return nil, services.Wrap(services.ErrInvalidTransition, "jobs", "confirm rights",
			fmt.Sprintf("job %s is %s", job.ID, job.State), nil)
	}
	if !accept {
		cancelled, err := s.store.Cancel(ctx, job.ID, s.clock())
		if err != nil {
			return nil, err
		}
		s.deleteArtifacts(ctx, cancelled)
		logging.WithContext(ctx, s.logger).Info("rights declined",
			logging.String(logging.FieldEventType, "rights_declined"),
		)
		return cancelled, nil
	}
	confirmed, err := s.store.ConfirmRights(ctx, job.ID, s.clock())
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("rights confirmed",
		logging.String(logging.FieldEventType, "rights_confirmed"),
	)
	return confirmed, nil
}

// SelectOperation validates the requested operation, charges the user's
// hourly budget and queues the job. The admission is refunded when the
// job does not reach queued.
func (s *Service) SelectOperation(ctx context.Context, jobID string, op queue.Operation, params queue.Params) (*queue.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithOperation(services.WithJobID(ctx, job.ID), string(op))
	switch job.State {
	case queue.StateDraft, queue.StateCancelled:
		return nil, services.Wrap(services.ErrRightsNotConfirmed, "jobs", "select operation",
			"confirm you have the rights to this media first", nil)
	case queue.StateConfirmed:
	default:
		return nil, services.Wrap(services.ErrInvalidTransition, "jobs", "select operation",
			fmt.Sprintf("job %s is already %s", job.ID, job.State), nil)
	}
	if _, err := queue.ParseOperation(string(op)); err != nil {
		return nil, err
	}
	if err := ValidateParams(op, params, job.Source.DurationSeconds); err != nil {
		return nil, err
	}

	now := s.clock()
	ticket, ok, err := s.limiter.TryAdmit(ctx, job.OwnerID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrRateLimitExceeded, "jobs", "select operation", "hourly cap reached", nil)
	}
	queued, err := s.store.Enqueue(ctx, job.ID, op, params, now)
	if err != nil {
		if refundErr := s.limiter.Refund(ctx, ticket); refundErr != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "limiter refund failed", "limiter_refund_failed",
				logging.Error(refundErr),
				logging.String(logging.FieldImpact, "the user loses one admission until the window slides"),
			)
		}
		return nil, err
	}
	s.announce(ctx, queued.ID)
	s.metrics.JobQueued(string(op))
	logging.WithContext(ctx, s.logger).Info("job queued",
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return queued, nil
}

// ValidateParams checks operation arguments before a job is queued.
// durationSeconds may be zero when the source length is not yet known.
func ValidateParams(op queue.Operation, params queue.Params, durationSeconds float64) error {
	bad := func(msg string) error {
		return services.Wrap(services.ErrInvalidParameters, "jobs", "validate params", msg, nil)
	}
	for _, v := range []*float64{params.Start, params.End, params.Offset} {
		if v != nil && *v < 0 {
			return bad("times cannot be negative")
		}
	}
	if params.Frame != nil && *params.Frame < 0 {
		return bad("the frame number cannot be negative")
	}
	switch op {
	case queue.OpTrim, queue.OpSmartTrim:
		if params.Start == nil && params.End == nil {
			return bad("give a start or an end time to trim")
		}
		if params.Start != nil && params.End != nil && *params.End <= *params.Start {
			return bad("the end time must be after the start time")
		}
		if durationSeconds > 0 && params.Start != nil && *params.Start >= durationSeconds {
			return bad("the start time is past the end of the media")
		}
	case queue.OpRemux:
		if c := params.Container; strings.TrimSpace(c) != "" && !ffmpeg.IsSupportedContainer(c) {
			return bad(fmt.Sprintf("unsupported container %q (choose %s)", params.Container, strings.Join(ffmpeg.SupportedContainers(), ", ")))
		}
	}
	return nil
}

// announce tells the dispatch queue about a newly queued job. Store polling
// picks the job up regardless, so failures only cost latency.
func (s *Service) announce(ctx context.Context, jobID string) {
	if err := s.dispatch.Enqueue(ctx, jobID); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "dispatch announce failed", "dispatch_enqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job waits for the next store poll"),
		)
	}
}

// ClaimNext claims the first claimable candidate for workerID, or returns
// nil when there is none.
func (s *Service) ClaimNext(ctx context.Context, workerID string) (*queue.Job, error) {
	ids, err := s.dispatch.Next(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		job, ok, err := s.store.Claim(ctx, id, workerID, s.clock())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		s.metrics.JobStarted(string(job.Operation))
		logging.WithContext(services.WithJobID(ctx, job.ID), s.logger).Info("job claimed",
			logging.String(logging.FieldWorkerID, workerID),
			logging.Int("attempt", job.Attempts),
			logging.String(logging.FieldEventType, "job_claimed"),
		)
		return job, nil
	}
	return nil, nil
}

// Heartbeat refreshes the liveness stamp of a running job. It returns
// false once the worker no longer owns the job.
func (s *Service) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	return s.store.UpdateHeartbeat(ctx, jobID, workerID, s.clock())
}

// Complete records the result of a processing job and seals its storage.
func (s *Service) Complete(ctx context.Context, jobID string, result queue.Result) (*queue.Job, error) {
	workerID, _ := services.WorkerIDFromContext(ctx)
	now := s.clock()
	done, err := s.store.Complete(ctx, jobID, workerID, result, now, now.Add(s.resultTTL))
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, done.ID)
	s.seal(ctx, done)
	s.metrics.JobCompleted(string(done.Operation), elapsed(done))
	logging.WithContext(ctx, s.logger).Info("job completed",
		logging.String("result", result.Name),
		logging.Int64("size_bytes", result.SizeBytes),
		logging.Duration("elapsed", elapsed(done)),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	return done, nil
}

// Fail records cause on a processing job and seals its storage.
func (s *Service) Fail(ctx context.Context, jobID string, cause error) (*queue.Job, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	workerID, _ := services.WorkerIDFromContext(ctx)
	kind := services.KindOf(cause)
	reason := truncate(cause.Error(), maxReasonLen)
	now := s.clock()
	failed, err := s.store.Fail(ctx, jobID, workerID, kind, reason, now, now.Add(s.resultTTL))
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, failed.ID)
	s.seal(ctx, failed)
	s.metrics.JobFailed(string(failed.Operation), kind, elapsed(failed))
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "job failed", "job_failed",
		logging.String("failure_kind", kind),
		logging.String("failure_reason", reason),
		logging.String(logging.FieldErrorHint, hintFor(kind)),
	)
	return failed, nil
}

// Cancel cancels an open job on behalf of its owner.
func (s *Service) Cancel(ctx context.Context, jobID, userID string) (*queue.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)
	if job.OwnerID != strings.TrimSpace(userID) {
		return nil, services.Wrap(services.ErrInvalidTransition, "jobs", "cancel", "job belongs to another user", nil)
	}
	if !job.State.IsOpen() {
		return nil, services.Wrap(services.ErrInvalidTransition, "jobs", "cancel",
			fmt.Sprintf("job %s is %s", job.ID, job.State), nil)
	}
	cancelled, err := s.store.Cancel(ctx, job.ID, s.clock())
	if err != nil {
		return nil, err
	}
	s.deleteArtifacts(ctx, cancelled)
	logging.WithContext(ctx, s.logger).Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return cancelled, nil
}

// ListJobs returns the user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string, limit int) ([]*queue.Job, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	return s.store.ListByOwner(ctx, strings.TrimSpace(userID), limit)
}

func elapsed(job *queue.Job) time.Duration {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func hintFor(kind string) string {
	switch kind {
	case services.KindTimeout:
		return "the tool exceeded its time budget; check tool_timeout settings"
	case services.KindToolExecutionFailed:
		return "inspect the stderr tail in the failure reason"
	case services.KindStorageUnavailable:
		return "check storage backend connectivity and free space"
	default:
		return "see failure_reason"
	}
}
