package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipsafe/internal/ffmpeg"
	"clipsafe/internal/jobs"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
)

// FromStatus converts a job status to its API representation.
func FromStatus(status jobs.Status) Job {
	job := status.Job
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:          job.ID,
		OwnerID:     job.OwnerID,
		State:       string(job.State),
		Operation:   string(job.Operation),
		Message:     status.Message,
		FailureKind: job.FailureKind,
		Expired:     status.Expired,
		Attempts:    job.Attempts,
		Source: Source{
			Kind:            string(job.Source.Kind),
			Filename:        job.Source.Filename,
			URL:             job.Source.URL,
			SizeBytes:       job.Source.SizeBytes,
			DurationSeconds: job.Source.DurationSeconds,
		},
		CreatedAt:   formatTime(&job.CreatedAt),
		UpdatedAt:   formatTime(&job.UpdatedAt),
		CompletedAt: formatTime(job.CompletedAt),
		ExpiresAt:   formatTime(job.ExpiresAt),
	}
	if job.Operation != "" {
		p := job.Params
		dto.Params = &Params{Start: p.Start, End: p.End, Container: p.Container, Smart: p.Smart, Offset: p.Offset, Frame: p.Frame}
	}
	if job.Result != nil && !status.Expired {
		dto.Result = &Result{
			Name:      job.Result.Name,
			SizeBytes: job.Result.SizeBytes,
			URL:       status.PublicURL,
			Reencoded: job.Result.Reencoded,
		}
	}
	return dto
}

// FromJob converts a job when no status lookup was made, as after a
// transition that already returned the record.
func FromJob(job *queue.Job, now time.Time) Job {
	return FromStatus(jobs.StatusAt(job, now))
}

// ToParams parses an OperationRequest into the operation and its params.
func ToParams(req OperationRequest) (queue.Operation, queue.Params, error) {
	op, err := queue.ParseOperation(req.Operation)
	if err != nil {
		return "", queue.Params{}, err
	}
	params := queue.Params{Container: strings.TrimSpace(req.Container), Smart: req.Smart, Frame: req.Frame}
	for _, field := range []struct {
		raw string
		dst **float64
	}{
		{req.Start, &params.Start},
		{req.End, &params.End},
		{req.Offset, &params.Offset},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		seconds, err := ffmpeg.ParseTimecode(field.raw)
		if err != nil {
			return "", queue.Params{}, err
		}
		*field.dst = &seconds
	}
	return op, params, nil
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRightsNotConfirmed), errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromError builds the error body for err.
func FromError(err error) ErrorResponse {
	kind := services.KindOf(err)
	if !services.IsClassified(err) {
		kind = "Internal"
	}
	message := services.UserMessage(err)
	if errors.Is(err, services.ErrInvalidTransition) {
		message = "This action is not possible in the job's current state."
	}
	return ErrorResponse{Error: Error{Kind: kind, Message: message}}
}

// DecodeJSON reads a JSON body of at most limit bytes into dst.
func DecodeJSON(r io.Reader, limit int64, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrInvalidParameters, "api", "decode",
			fmt.Sprintf("malformed request body (%s)", strings.ReplaceAll(err.Error(), ": ", " ")), nil)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
