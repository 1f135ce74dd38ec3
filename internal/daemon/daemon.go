package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clipsafe/internal/api"
	"clipsafe/internal/config"
	"clipsafe/internal/dispatch"
	"clipsafe/internal/jobs"
	"clipsafe/internal/limiter"
	"clipsafe/internal/logging"
	"clipsafe/internal/metrics"
	"clipsafe/internal/preflight"
	"clipsafe/internal/queue"
	"clipsafe/internal/source"
	"clipsafe/internal/storage"
	"clipsafe/internal/worker"
)

const healthTimeout = 3 * time.Second

// Options selects which services Start runs.
type Options struct {
	// API serves HTTP and takes the single-instance lock.
	API bool
	// Workers runs the worker pool and the maintenance loop.
	Workers bool
	// SkipPreflight starts even when required checks fail.
	SkipPreflight bool
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	store   *queue.Store
	backend storage.Backend
	limiter limiter.Limiter
	queue   dispatch.Queue
	metrics *metrics.Prometheus
	jobs    *jobs.Service
	pool    *worker.Pool
	maint   *worker.Maintenance
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	LockFilePath string
	ActiveJobs   map[string]string
}

// New opens every backend named by cfg and wires the lifecycle service,
// worker pool and API. Resources opened before a failure are released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Daemon, err error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	d := &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	defer func() {
		if err != nil {
			_ = d.closeBackends()
		}
	}()

	if err = cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if d.store, err = queue.Open(cfg); err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if d.backend, err = storage.New(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if d.limiter, err = limiter.New(cfg, logger); err != nil {
		return nil, fmt.Errorf("build limiter: %w", err)
	}
	if d.queue, err = dispatch.New(cfg, d.store, logger); err != nil {
		return nil, fmt.Errorf("build dispatch queue: %w", err)
	}
	d.metrics = metrics.NewPrometheus()

	fetcher := source.NewFetcherFromConfig(cfg, logger)
	d.jobs = jobs.New(cfg, d.store, jobs.Dependencies{
		Limiter: d.limiter,
		Storage: d.backend,
		Queue:   d.queue,
		Metrics: d.metrics,
		Prober:  fetcher,
	}, logger)
	d.pool = worker.NewPool(cfg, d.jobs, d.backend, fetcher, logger)
	d.maint = worker.NewMaintenance(cfg, d.jobs, d.pool.Staging(), logger)

	if opts.API {
		handlerOpts := api.Options{
			MaxUploadBytes: int64(cfg.API.MaxUploadMB) << 20,
			Health:         d.Health,
			Logger:         logger,
		}
		if local, ok := d.backend.(*storage.Local); ok {
			handlerOpts.Signer = local.Signer()
		}
		if cfg.API.Metrics {
			handlerOpts.Metrics = d.metrics.Handler()
		}
		d.api = newAPIServer(cfg, api.NewHandler(d.jobs, d.backend, handlerOpts), logger)
	}
	return d, nil
}

// Start runs preflight, takes the lock when serving the API and launches
// the configured services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if d.opts.API {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return errors.New("another clipsafe daemon is already serving this data directory")
		}
	}
	if err := d.preflight(ctx); err != nil {
		d.unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.opts.Workers {
		if err := d.pool.Start(runCtx); err != nil {
			cancel()
			d.unlock()
			return fmt.Errorf("start worker pool: %w", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.maint.Run(runCtx)
		}()
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.pool.Stop()
		d.wg.Wait()
		d.unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("clipsafe daemon started",
		logging.Bool("api", d.opts.API),
		logging.Bool("workers", d.opts.Workers),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) preflight(ctx context.Context) error {
	results := preflight.RunAll(ctx, d.cfg, d.targets())
	failed := preflight.Failed(results)
	for _, r := range results {
		if !r.Passed {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.Bool("optional", r.Optional),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldErrorHint, "run clipsafe check for details"),
			)
		}
	}
	if len(failed) == 0 || d.opts.SkipPreflight {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
}

func (d *Daemon) targets() preflight.Targets {
	targets := preflight.Targets{Store: d.store}
	if pinger, ok := d.backend.(preflight.Pinger); ok {
		targets.Storage = pinger
	}
	return targets
}

// Stop stops background processing and releases the daemon lock. Jobs
// interrupted mid-run are reclaimed by the next maintenance tick.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pool.Stop()
	d.wg.Wait()
	d.unlock()
	d.running.Store(false)
	d.logger.Info("clipsafe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) unlock() {
	if !d.opts.API {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a new daemon may refuse to start until this process exits"),
		)
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.closeBackends()
}

func (d *Daemon) closeBackends() error {
	var errs []error
	if d.queue != nil {
		errs = append(errs, d.queue.Close())
	}
	if closer, ok := d.limiter.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Jobs exposes the lifecycle service for in-process callers such as the CLI.
func (d *Daemon) Jobs() *jobs.Service {
	return d.jobs
}

// Store exposes the job store.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

// Maintenance exposes the reclaim and sweep loop for one-shot runs.
func (d *Daemon) Maintenance() *worker.Maintenance {
	return d.maint
}

// Preflight runs every check against the daemon's live backends.
func (d *Daemon) Preflight(ctx context.Context) []preflight.Result {
	return preflight.RunAll(ctx, d.cfg, d.targets())
}

// Health reports backend reachability for /healthz.
func (d *Daemon) Health(ctx context.Context) (api.Health, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health := api.Health{Status: "ok", Database: "ok", Storage: "ok"}
	ok := true
	if err := d.store.Ping(ctx); err != nil {
		health.Database = "unreachable"
		ok = false
	}
	if pinger, isPinger := d.backend.(preflight.Pinger); isPinger {
		if err := pinger.Ping(ctx); err != nil {
			health.Storage = "unreachable"
			ok = false
		}
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		health.Queue = make(map[string]int, len(stats))
		for state, n := range stats {
			health.Queue[string(state)] = n
		}
	}
	health.Active = len(d.pool.Active())
	if !ok {
		health.Status = "degraded"
	}
	return health, ok
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Address:      d.api.addr(),
		LockFilePath: d.lockPath,
		ActiveJobs:   d.pool.Active(),
	}
}
