package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clipsafe/internal/config"
	"clipsafe/internal/jobs"
	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/staging"
	"clipsafe/internal/storage"
	"clipsafe/internal/toolrun"
)

// Downloader fetches a remote source into a local file.
type Downloader interface {
	Download(ctx context.Context, raw, dst string) (int64, error)
}

// Service is the part of jobs.Service the pool drives.
type Service interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) (bool, error)
	Complete(ctx context.Context, jobID string, result queue.Result) (*queue.Job, error)
	Fail(ctx context.Context, jobID string, cause error) (*queue.Job, error)
	RecordArtifact(ctx context.Context, artifact queue.Artifact) error
	ForgetArtifact(ctx context.Context, jobID, name string) error
}

var _ Service = (*jobs.Service)(nil)

// Pool executes queued jobs with a fixed number of goroutines.
type Pool struct {
	svc        Service
	storage    storage.Backend
	downloader Downloader
	staging    *staging.Manager
	runner     *toolrun.Runner
	logger     *slog.Logger

	size              int
	pollInterval      time.Duration
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	ffmpegBinary      string
	ffprobeBinary     string
	timeoutBase       time.Duration
	timeoutFactor     float64
	timeoutMax        time.Duration
	maxBytes          int64
	maxDuration       time.Duration
	hostID            string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]string
}

// NewPool builds a pool from cfg. The workspace root is paths.temp_dir.
func NewPool(cfg *config.Config, svc Service, backend storage.Backend, downloader Downloader, logger *slog.Logger) *Pool {
	logger = logging.NewComponentLogger(logger, "worker")
	size := cfg.Worker.PoolSize
	if size <= 0 {
		size = 1
	}
	return &Pool{
		svc:               svc,
		storage:           backend,
		downloader:        downloader,
		staging:           staging.NewManager(cfg.Paths.TempDir, cfg.Worker.MinFreeMB, logger),
		runner:            toolrun.New(logger),
		logger:            logger,
		size:              size,
		pollInterval:      seconds(cfg.Worker.PollInterval),
		retryInterval:     seconds(cfg.Worker.ErrorRetryInterval),
		heartbeatInterval: seconds(cfg.Worker.HeartbeatInterval),
		ffmpegBinary:      cfg.Worker.FFmpegBinary,
		ffprobeBinary:     cfg.Worker.FFprobeBinary,
		timeoutBase:       seconds(cfg.Worker.ToolTimeoutBase),
		timeoutFactor:     cfg.Worker.ToolTimeoutFactor,
		timeoutMax:        seconds(cfg.Worker.ToolTimeoutMax),
		maxBytes:          cfg.MaxFileBytes(),
		maxDuration:       cfg.MaxDuration(),
		hostID:            uuid.NewString()[:8],
		active:            make(map[string]string),
	}
}

// Staging exposes the workspace manager shared with maintenance.
func (p *Pool) Staging() *staging.Manager {
	return p.staging
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if p.svc == nil || p.storage == nil {
		return services.Wrap(services.ErrConfiguration, "worker", "start", "pool is missing its service or storage", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-%d", p.hostID, i+1)
		go p.loop(runCtx, workerID)
	}
	p.logger.Info("worker pool started",
		logging.Int("size", p.size),
		logging.String(logging.FieldEventType, "pool_started"),
	)
	return nil
}

// Stop cancels running jobs and waits for the goroutines. Interrupted jobs
// stay processing and are reclaimed once their heartbeat goes stale.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Active returns job id -> worker id for jobs executing right now.
func (p *Pool) Active() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.active))
	for k, v := range p.active {
		out[k] = v
	}
	return out
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()
	ctx = services.WithWorkerID(ctx, workerID)
	logger := logging.WithContext(ctx, p.logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimStarted := time.Now()
		job, err := p.svc.ClaimNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check database and queue connectivity"),
			)
			wait(ctx, p.retryInterval)
			continue
		}
		if job == nil {
			if d := idleWait(p.pollInterval, time.Since(claimStarted)); d > 0 {
				wait(ctx, d)
			}
			continue
		}
		p.process(ctx, workerID, job)
	}
}

// RunOnce claims and executes at most one job on the calling goroutine.
// It reports whether a job was found.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	ctx = services.WithWorkerID(ctx, workerID)
	job, err := p.svc.ClaimNext(ctx, workerID)
	if err != nil || job == nil {
		return false, err
	}
	p.process(ctx, workerID, job)
	return true, nil
}

func (p *Pool) track(jobID, workerID string) func() {
	p.mu.Lock()
	p.active[jobID] = workerID
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.active, jobID)
		p.mu.Unlock()
	}
}

// idleWait is the pause before the next claim after an empty one. A
// dispatch queue that blocked while claiming (Redis BLPOP) has already
// spent part of the poll interval, so only the remainder is slept.
func idleWait(poll, spent time.Duration) time.Duration {
	if poll <= 0 {
		poll = time.Second
	}
	return poll - spent
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
