package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"clipsafe/internal/jobs"
	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/storage"
)

const (
	maxJSONBody     = 64 << 10
	multipartMemory = 8 << 20
	// multipart framing and text fields on top of the file itself
	multipartSlack = 1 << 20
)

// Lifecycle is the part of jobs.Service the HTTP adapter drives.
type Lifecycle interface {
	CreateDraft(ctx context.Context, userID string, src jobs.NewSource) (*queue.Job, error)
	ConfirmRights(ctx context.Context, jobID string, accept bool) (*queue.Job, error)
	SelectOperation(ctx context.Context, jobID string, op queue.Operation, params queue.Params) (*queue.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (jobs.Status, error)
	Cancel(ctx context.Context, jobID, userID string) (*queue.Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*queue.Job, error)
	Remaining(ctx context.Context, userID string) (int, error)
}

var _ Lifecycle = (*jobs.Service)(nil)

// Options configures NewHandler. Zero values disable the matching feature.
type Options struct {
	MaxUploadBytes int64
	// Signer verifies /files tokens; nil disables the route.
	Signer  *storage.Signer
	Metrics http.Handler
	Health  func(ctx context.Context) (Health, bool)
	Clock   func() time.Time
	Logger  *slog.Logger
}

type handler struct {
	svc     Lifecycle
	files   storage.Backend
	opts    Options
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewHandler returns the routes for the lifecycle API, downloads, metrics
// and health. Authentication and throttling are applied by the caller.
func NewHandler(svc Lifecycle, files storage.Backend, opts Options) http.Handler {
	h := &handler{
		svc:     svc,
		files:   files,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
		nowFunc: opts.Clock,
	}
	if h.nowFunc == nil {
		h.nowFunc = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", h.handleCreate)
	mux.HandleFunc("GET /api/jobs/{id}", h.handleGet)
	mux.HandleFunc("POST /api/jobs/{id}/rights", h.handleRights)
	mux.HandleFunc("POST /api/jobs/{id}/operation", h.handleOperation)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /api/users/{id}/jobs", h.handleHistory)
	mux.HandleFunc("GET /files/{job}/{name}", h.handleDownload)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		userID string
		src    jobs.NewSource
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if h.opts.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartSlack)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.writeError(w, r, uploadError(err))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		file, header, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, r, services.Wrap(services.ErrInvalidParameters, "api", "create", "a file field is required", nil))
			return
		}
		defer file.Close()
		userID = r.FormValue("user_id")
		src = jobs.NewSource{
			Filename:  header.Filename,
			Body:      file,
			SizeBytes: header.Size,
			MIME:      header.Header.Get("Content-Type"),
		}
		if raw := strings.TrimSpace(r.FormValue("duration_seconds")); raw != "" {
			seconds, err := strconv.ParseFloat(raw, 64)
			if err != nil || seconds < 0 {
				h.writeError(w, r, services.Wrap(services.ErrInvalidParameters, "api", "create", "duration_seconds must be a positive number", nil))
				return
			}
			src.DurationSeconds = seconds
		}
	} else {
		var req CreateJobRequest
		if err := DecodeJSON(r.Body, maxJSONBody, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		userID = req.UserID
		src = jobs.NewSource{URL: req.URL, DurationSeconds: req.DurationSeconds}
	}

	job, err := h.svc.CreateDraft(r.Context(), userID, src)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, JobResponse{Job: FromJob(job, h.nowFunc())})
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetJobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JobResponse{Job: FromStatus(status)})
}

func (h *handler) handleRights(w http.ResponseWriter, r *http.Request) {
	var req RightsRequest
	if err := DecodeJSON(r.Body, maxJSONBody, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.svc.ConfirmRights(r.Context(), r.PathValue("id"), req.Accept)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JobResponse{Job: FromJob(job, h.nowFunc())})
}

func (h *handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := DecodeJSON(r.Body, maxJSONBody, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	op, params, err := ToParams(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.svc.SelectOperation(r.Context(), r.PathValue("id"), op, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JobResponse{Job: FromJob(job, h.nowFunc())})
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := DecodeJSON(r.Body, maxJSONBody, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.svc.Cancel(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JobResponse{Job: FromJob(job, h.nowFunc())})
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.ListJobs(ctx, userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	remaining, err := h.svc.Remaining(ctx, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.nowFunc()
	out := JobListResponse{Jobs: make([]Job, 0, len(list)), Remaining: remaining}
	for _, job := range list {
		if job.State == queue.StateDone && !job.Expired(now) {
			// done jobs need a fresh link
			if status, err := h.svc.GetJobStatus(ctx, job.ID); err == nil {
				out.Jobs = append(out.Jobs, FromStatus(status))
				continue
			}
		}
		out.Jobs = append(out.Jobs, FromJob(job, now))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if h.opts.Signer == nil || h.files == nil {
		http.NotFound(w, r)
		return
	}
	loc := storage.Location{JobID: r.PathValue("job"), Name: r.PathValue("name")}
	if err := h.opts.Signer.Verify(r.URL.Query().Get("token"), loc); err != nil {
		logging.WithContext(r.Context(), h.logger).Debug("download link rejected",
			logging.String("key", loc.Key()),
			logging.Error(err),
		)
		http.NotFound(w, r)
		return
	}
	body, err := h.files.Open(r.Context(), loc)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.writeError(w, r, err)
		return
	}
	defer body.Close()

	if ctype := mime.TypeByExtension(path.Ext(loc.Name)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": loc.Name}))
	w.Header().Set("Cache-Control", "private, no-store")
	if seeker, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, loc.Name, time.Time{}, seeker)
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		logging.WithContext(r.Context(), h.logger).Debug("download interrupted", logging.Error(err))
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health == nil {
		h.writeJSON(w, http.StatusOK, Health{Status: "ok"})
		return
	}
	health, ok := h.opts.Health(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, health)
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return services.Wrap(services.ErrInvalidParameters, "api", "upload",
			fmt.Sprintf("the file exceeds the %d MB upload limit", (tooLarge.Limit-multipartSlack)>>20), nil)
	}
	return services.Wrap(services.ErrInvalidParameters, "api", "upload", "malformed multipart upload", nil)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	logger := logging.WithContext(r.Context(), h.logger)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", code),
			logging.Error(err),
		)
	} else {
		logger.Debug("request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", code),
			logging.String("kind", services.KindOf(err)),
		)
	}
	if code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Hour.Seconds())))
	}
	h.writeJSON(w, code, FromError(err))
}
