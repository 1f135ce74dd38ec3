package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"clipsafe/internal/config"
	"clipsafe/internal/jobs"
	"clipsafe/internal/logging"
	"clipsafe/internal/queue"
	"clipsafe/internal/staging"
)

// MaintenanceService is the part of jobs.Service maintenance drives.
type MaintenanceService interface {
	Reclaim(ctx context.Context, now time.Time) (queue.ReclaimResult, error)
	ExpireAbandonedDrafts(ctx context.Context, now time.Time) (int, error)
	Sweep(ctx context.Context, now time.Time) (jobs.SweepResult, error)
	PublishQueueDepth(ctx context.Context) error
	ActiveJobIDs(ctx context.Context) (map[string]struct{}, error)
}

var _ MaintenanceService = (*jobs.Service)(nil)

// SweepReport summarises one pass of Sweep.
type SweepReport struct {
	Skipped    bool
	Artifacts  int
	JobsPurged int64
	Workspaces int
}

// Maintenance runs the periodic housekeeping tasks.
type Maintenance struct {
	svc     MaintenanceService
	staging *staging.Manager
	lock    *flock.Flock
	logger  *slog.Logger
	now     func() time.Time

	tick          time.Duration
	sweepInterval time.Duration
	workspaceAge  time.Duration
}

// NewMaintenance builds the housekeeping loop. The sweep lock lives at
// cfg.SweepLockPath so that several processes on one host never sweep at
// the same time.
func NewMaintenance(cfg *config.Config, svc MaintenanceService, stage *staging.Manager, logger *slog.Logger) *Maintenance {
	tick := seconds(cfg.Worker.HeartbeatInterval)
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Maintenance{
		svc:           svc,
		staging:       stage,
		lock:          flock.New(cfg.SweepLockPath()),
		logger:        logging.NewComponentLogger(logger, "maintenance"),
		now:           time.Now,
		tick:          tick,
		sweepInterval: seconds(cfg.Worker.SweepInterval),
		workspaceAge:  seconds(cfg.Worker.HeartbeatTimeout),
	}
}

// Run loops until ctx is cancelled. The first sweep runs immediately.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	var lastSweep time.Time

	for {
		now := m.now().UTC()
		m.Tick(ctx, now)
		if m.sweepInterval > 0 && now.Sub(lastSweep) >= m.sweepInterval {
			if _, err := m.Sweep(ctx, now); err != nil && ctx.Err() == nil {
				m.logger.Error("ttl sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ttl_sweep_failed"),
					logging.String(logging.FieldErrorHint, "check storage backend and database access"),
				)
			}
			lastSweep = now
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs the frequent tasks: stale reclaim, draft expiry and the
// queue-depth gauge. Each task logs its own failure.
func (m *Maintenance) Tick(ctx context.Context, now time.Time) {
	if _, err := m.svc.Reclaim(ctx, now); err != nil && ctx.Err() == nil {
		m.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	if _, err := m.svc.ExpireAbandonedDrafts(ctx, now); err != nil && ctx.Err() == nil {
		m.logger.Warn("expiring abandoned drafts failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "draft_expiry_failed"),
		)
	}
	if err := m.svc.PublishQueueDepth(ctx); err != nil && ctx.Err() == nil {
		m.logger.Debug("queue depth unavailable", logging.Error(err))
	}
}

// Sweep deletes expired artifacts and stale workspaces. It is skipped when
// another process holds the sweep lock.
func (m *Maintenance) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	locked, err := m.lock.TryLock()
	if err != nil {
		return SweepReport{}, err
	}
	if !locked {
		m.logger.Debug("sweep lock held elsewhere; skipping")
		return SweepReport{Skipped: true}, nil
	}
	defer func() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn("failed to release sweep lock", logging.Error(err))
		}
	}()

	result, err := m.svc.Sweep(ctx, now)
	report := SweepReport{Artifacts: result.ArtifactsRemoved, JobsPurged: result.JobsPurged}
	if err != nil {
		return report, err
	}
	if m.staging != nil {
		active, err := m.svc.ActiveJobIDs(ctx)
		if err != nil {
			return report, err
		}
		cleaned := m.staging.CleanInactive(ctx, active, m.workspaceAge, now)
		report.Workspaces = len(cleaned.Removed)
	}
	return report, nil
}
