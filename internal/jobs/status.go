package jobs

import (
	"context"
	"errors"
	"time"

	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/storage"
)

// Status is what a front-end shows for one job.
type Status struct {
	Job       *queue.Job
	Message   string
	PublicURL string
	Expired   bool
}

// GetJobStatus returns the job with a user-facing message and, for
// finished jobs that have not expired, a download link.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (Status, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	status := StatusAt(job, s.clock())
	if job.State == queue.StateDone && job.Result != nil && !status.Expired {
		status.PublicURL = s.publicURL(ctx, job)
	}
	return status, nil
}

// StatusAt builds the status of job at now without resolving a link.
func StatusAt(job *queue.Job, now time.Time) Status {
	status := Status{Job: job, Expired: job.Expired(now)}
	status.Message = statusMessage(job, status.Expired)
	return status
}

// publicURL re-resolves the link so signed URLs stay fresh, falling back to
// the URL recorded at completion.
func (s *Service) publicURL(ctx context.Context, job *queue.Job) string {
	if s.storage == nil {
		return job.Result.PublicURL
	}
	url, err := s.storage.ResolvePublicURL(ctx, storage.Location{JobID: job.ID, Name: job.Result.Name})
	if err != nil {
		logging.WarnWithContext(logging.WithContext(services.WithJobID(ctx, job.ID), s.logger),
			"resolving public url failed", "public_url_failed",
			logging.Error(err),
		)
		return job.Result.PublicURL
	}
	if url == "" {
		return job.Result.PublicURL
	}
	return url
}

func statusMessage(job *queue.Job, expired bool) string {
	switch job.State {
	case queue.StateDraft:
		return "Confirm you have the rights to this media to continue."
	case queue.StateConfirmed:
		return "Choose what to do with the media."
	case queue.StateQueued:
		return "Waiting for a free worker."
	case queue.StateProcessing:
		return "Processing."
	case queue.StateDone:
		if expired {
			return "The result has expired."
		}
		return "Ready."
	case queue.StateFailed:
		return failureMessage(job)
	case queue.StateCancelled:
		return "Cancelled."
	default:
		return ""
	}
}

// failureMessage rebuilds the user-facing text from the stored kind. Only
// user-input kinds carry their reason through.
func failureMessage(job *queue.Job) string {
	marker := services.MarkerForKind(job.FailureKind)
	if marker == nil {
		return services.UserMessage(errors.New(job.FailureReason))
	}
	var inner error
	if services.IsUserError(marker) && job.FailureReason != "" {
		inner = errors.New(job.FailureReason)
	}
	return services.UserMessage(services.Wrap(marker, "jobs", "status", "", inner))
}
