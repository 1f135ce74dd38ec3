package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipsafe/internal/logging"
)

// errOwnershipLost cancels a job whose claim was taken over by reclaim.
var errOwnershipLost = errors.New("job ownership lost")

// heartbeat refreshes the job's liveness stamp every interval until ctx
// ends. When the store reports the job is no longer ours it cancels the
// job with errOwnershipLost.
func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, jobID, workerID string, cancel context.CancelCauseFunc) {
	defer wg.Done()
	interval := p.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, p.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			owned, err := p.svc.Heartbeat(ctx, jobID, workerID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_failed"))
				continue
			}
			if !owned {
				logging.WarnWithContext(logger, "job claimed by another worker; abandoning", "heartbeat_lost",
					logging.String(logging.FieldImpact, "this worker stops without recording an outcome"),
				)
				cancel(errOwnershipLost)
				return
			}
		}
	}
}
