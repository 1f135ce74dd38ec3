package jobs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/storage"
	"clipsafe/internal/textutil"
)

// NewSource is the input of CreateDraft: either an upload body or a URL.
type NewSource struct {
	Filename string
	Body     io.Reader
	// SizeBytes and DurationSeconds are hints the front-end may already
	// know; zero means unknown.
	SizeBytes       int64
	DurationSeconds float64
	MIME            string
	URL             string
}

// CreateDraft opens a new draft for userID, replacing any draft or
// confirmed job the user left open.
func (s *Service) CreateDraft(ctx context.Context, userID string, src NewSource) (*queue.Job, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, services.Wrap(services.ErrInvalidParameters, "jobs", "create draft", "a user id is required", nil)
	}
	hasURL := strings.TrimSpace(src.URL) != ""
	if hasURL == (src.Body != nil) {
		return nil, services.Wrap(services.ErrInvalidParameters, "jobs", "create draft", "send either a file or a link", nil)
	}
	if err := s.checkLimits(src.SizeBytes, src.DurationSeconds); err != nil {
		return nil, err
	}

	now := s.clock()
	remaining, err := s.limiter.Remaining(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, services.Wrap(services.ErrRateLimitExceeded, "jobs", "create draft", "hourly cap reached", nil)
	}

	var jobSource queue.Source
	if hasURL {
		jobSource, err = s.probeURL(ctx, src.URL)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.EnsureUser(ctx, userID, now); err != nil {
		return nil, err
	}
	if err := s.cancelOpenDrafts(ctx, userID); err != nil {
		return nil, err
	}

	job := &queue.Job{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		CreatedAt: now,
		Source:    jobSource,
	}
	ctx = services.WithJobID(ctx, job.ID)

	var uploaded *storage.Location
	if !hasURL {
		var loc storage.Location
		jobSource, loc, err = s.storeUpload(ctx, job.ID, src)
		if err != nil {
			return nil, err
		}
		job.Source = jobSource
		uploaded = &loc
	}

	if err := s.store.InsertDraft(ctx, job); err != nil {
		if uploaded != nil {
			_ = s.storage.Delete(ctx, job.ID)
		}
		return nil, err
	}
	if uploaded != nil {
		s.recordSource(ctx, job, *uploaded, now)
	}
	s.metrics.DraftCreated()
	logging.WithContext(ctx, s.logger).Info("draft created",
		logging.String("owner_id", userID),
		logging.String("source_kind", string(job.Source.Kind)),
		logging.Int64("size_bytes", job.Source.SizeBytes),
		logging.String(logging.FieldEventType, "draft_created"),
	)
	return s.Get(ctx, job.ID)
}

func (s *Service) checkLimits(sizeBytes int64, durationSeconds float64) error {
	if s.maxBytes > 0 && sizeBytes > s.maxBytes {
		return services.Wrap(services.ErrInvalidParameters, "jobs", "check limits",
			fmt.Sprintf("the file is larger than %s", humanBytes(s.maxBytes)), nil)
	}
	if s.maxDuration > 0 && durationSeconds > s.maxDuration.Seconds() {
		return services.Wrap(services.ErrInvalidParameters, "jobs", "check limits",
			fmt.Sprintf("the media is longer than %s", s.maxDuration), nil)
	}
	return nil
}

func (s *Service) probeURL(ctx context.Context, raw string) (queue.Source, error) {
	if s.prober == nil {
		return queue.Source{}, services.Wrap(services.ErrConfiguration, "jobs", "probe url", "link sources are not enabled", nil)
	}
	info, err := s.prober.Probe(ctx, raw)
	if err != nil {
		return queue.Source{}, err
	}
	return queue.Source{
		Kind:      queue.SourceURL,
		URL:       info.URL,
		Filename:  info.Filename,
		SizeBytes: info.SizeBytes,
		MIME:      info.MIME,
	}, nil
}

func (s *Service) storeUpload(ctx context.Context, jobID string, src NewSource) (queue.Source, storage.Location, error) {
	if s.storage == nil {
		return queue.Source{}, storage.Location{}, services.Wrap(services.ErrConfiguration, "jobs", "store upload", "no storage backend", nil)
	}
	loc, err := s.storage.Put(ctx, jobID, uploadName(src.Filename, src.MIME), src.Body)
	if err != nil {
		return queue.Source{}, storage.Location{}, err
	}
	size := src.SizeBytes
	if size <= 0 {
		size = s.artifactSize(ctx, loc)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		_ = s.storage.Delete(ctx, jobID)
		return queue.Source{}, storage.Location{}, s.checkLimits(size, 0)
	}
	return queue.Source{
		Kind:            queue.SourceUpload,
		Name:            loc.Name,
		Filename:        textutil.SanitizeFileName(src.Filename),
		SizeBytes:       size,
		MIME:            src.MIME,
		DurationSeconds: src.DurationSeconds,
	}, loc, nil
}

// recordSource books the uploaded object. The draft is already committed,
// so a bookkeeping failure is only logged.
func (s *Service) recordSource(ctx context.Context, job *queue.Job, loc storage.Location, now time.Time) {
	err := s.store.RecordArtifact(ctx, queue.Artifact{
		JobID:     job.ID,
		Kind:      queue.ArtifactSource,
		Name:      loc.Name,
		Location:  loc.Key(),
		SizeBytes: job.Source.SizeBytes,
		CreatedAt: now,
	})
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "recording source artifact failed", "artifact_record_failed",
			logging.Error(err),
		)
	}
}

// artifactSize counts the stored bytes when the front-end did not say.
func (s *Service) artifactSize(ctx context.Context, loc storage.Location) int64 {
	rc, err := s.storage.Open(ctx, loc)
	if err != nil {
		return 0
	}
	defer rc.Close()
	n, _ := io.Copy(io.Discard, rc)
	return n
}

// cancelOpenDrafts enforces one open draft per user.
func (s *Service) cancelOpenDrafts(ctx context.Context, userID string) error {
	open, err := s.store.OpenDrafts(ctx, userID)
	if err != nil {
		return err
	}
	for _, job := range open {
		cancelled, err := s.store.Cancel(ctx, job.ID, s.clock())
		if err != nil {
			if services.KindOf(err) == services.KindInvalidTransition {
				continue
			}
			return err
		}
		s.deleteArtifacts(ctx, cancelled)
		logging.WithContext(services.WithJobID(ctx, job.ID), s.logger).Info("replaced open draft",
			logging.String(logging.FieldEventType, "draft_replaced"),
		)
	}
	return nil
}

// uploadName is the storage name of an uploaded source. It never depends
// on the user's stem so results derived from that stem cannot collide.
func uploadName(filename, mimeType string) string {
	_, ext := textutil.SplitName(textutil.SanitizeFileName(filename))
	if ext == "" {
		ext = ".bin"
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "source" + strings.ToLower(ext)
}

func humanBytes(n int64) string {
	const gb = 1 << 30
	const mb = 1 << 20
	if n >= gb {
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	}
	return fmt.Sprintf("%d MB", n/mb)
}
