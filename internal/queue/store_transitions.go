package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"clipsafe/internal/services"
)

// transition performs a compare-and-set move of job id into to. set holds
// extra "column = ?" assignments whose values lead args. When workerID is
// not empty the update also requires the job to still belong to that worker.
func (s *Store) transition(ctx context.Context, id string, from []State, to State, workerID string, now time.Time, set []string, args ...any) (*Job, error) {
	for _, state := range from {
		if !CanTransition(state, to) {
			return nil, services.Wrap(services.ErrInvalidTransition, "queue", "transition",
				fmt.Sprintf("%s -> %s is not a lifecycle edge", state, to), nil)
		}
	}
	assignments := append([]string{"state = ?", "updated_at = ?"}, set...)
	query := "UPDATE jobs SET " + strings.Join(assignments, ", ") +
		" WHERE id = ? AND state IN (" + makePlaceholders(len(from)) + ")"

	params := make([]any, 0, len(args)+len(from)+4)
	params = append(params, string(to), formatTime(now))
	params = append(params, args...)
	params = append(params, id)
	params = append(params, stateArgs(from)...)
	if workerID != "" {
		query += " AND worker_id = ?"
		params = append(params, workerID)
	}

	res, err := s.execWithRetry(ctx, query, params...)
	if err != nil {
		return nil, transient("transition to "+string(to), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, transient("transition to "+string(to), err)
	}
	if rows == 0 {
		return nil, s.transitionError(ctx, id, to, workerID)
	}
	return s.Get(ctx, id)
}

// transitionError explains why a conditional update matched no row.
func (s *Store) transitionError(ctx context.Context, id string, to State, workerID string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "queue", "transition", fmt.Sprintf("job %s", id), nil)
	}
	if workerID != "" && job.State == StateProcessing && job.WorkerID != workerID {
		return services.Wrap(services.ErrInvalidTransition, "queue", "transition",
			fmt.Sprintf("job %s is held by worker %s, not %s", id, job.WorkerID, workerID), nil)
	}
	return services.Wrap(services.ErrInvalidTransition, "queue", "transition",
		fmt.Sprintf("job %s cannot move from %s to %s", id, job.State, to), nil)
}

// ConfirmRights moves a draft to confirmed.
func (s *Store) ConfirmRights(ctx context.Context, id string, now time.Time) (*Job, error) {
	return s.transition(ctx, id, []State{StateDraft}, StateConfirmed, "", now,
		[]string{"confirmed_at = ?"}, formatTime(now))
}

// Cancel moves a draft or confirmed job to cancelled.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (*Job, error) {
	return s.transition(ctx, id, predecessors(StateCancelled), StateCancelled, "", now,
		[]string{"completed_at = ?"}, formatTime(now))
}

// Enqueue records the chosen operation and moves a confirmed job to queued.
func (s *Store) Enqueue(ctx context.Context, id string, op Operation, params Params, now time.Time) (*Job, error) {
	encoded, err := encodeJSON(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return s.transition(ctx, id, []State{StateConfirmed}, StateQueued, "", now,
		[]string{"operation = ?", "params_json = ?", "queued_at = ?"},
		string(op), encoded, formatTime(now))
}

// Claim atomically moves a queued job to processing on behalf of workerID.
// It returns false without error when another claimant won the race or the
// job is no longer queued.
func (s *Store) Claim(ctx context.Context, id, workerID string, now time.Time) (*Job, bool, error) {
	stamp := formatTime(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET state = ?, worker_id = ?, attempts = attempts + 1, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		string(StateProcessing), workerID, stamp, stamp, stamp, id, string(StateQueued),
	)
	if err != nil {
		return nil, false, transient("claim", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, transient("claim", err)
	}
	if rows != 1 {
		return nil, false, nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Complete moves a processing job to done with its result. The result is
// written by this transition only.
func (s *Store) Complete(ctx context.Context, id, workerID string, result Result, now, expiresAt time.Time) (*Job, error) {
	if result.Name == "" {
		return nil, services.Wrap(services.ErrInvalidParameters, "queue", "complete", "result name is required", nil)
	}
	encoded, err := encodeJSON(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return s.transition(ctx, id, []State{StateProcessing}, StateDone, workerID, now,
		[]string{"result_json = ?", "completed_at = ?", "expires_at = ?", "last_heartbeat = NULL"},
		encoded, formatTime(now), formatTime(expiresAt))
}

// Fail moves a processing job to failed and records the cause.
func (s *Store) Fail(ctx context.Context, id, workerID, kind, reason string, now, expiresAt time.Time) (*Job, error) {
	return s.transition(ctx, id, []State{StateProcessing}, StateFailed, workerID, now,
		[]string{"failure_kind = ?", "failure_reason = ?", "completed_at = ?", "expires_at = ?", "last_heartbeat = NULL"},
		kind, nullableString(reason), formatTime(now), formatTime(expiresAt))
}

// UpdateHeartbeat refreshes last_heartbeat for a job the worker still owns.
// It returns false when the job has left processing or changed hands.
func (s *Store) UpdateHeartbeat(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	stamp := formatTime(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ? AND worker_id = ?`,
		stamp, stamp, id, string(StateProcessing), workerID,
	)
	if err != nil {
		return false, transient("heartbeat", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, transient("heartbeat", err)
	}
	return rows == 1, nil
}

// ReclaimStale handles processing jobs whose heartbeat is older than
// cutoff. Jobs with attempts left return to queued with their parameters
// intact; the rest fail with kind Timeout.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int, now, expiresAt time.Time) (ReclaimResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var result ReclaimResult
	cutoffStamp := formatTime(cutoff)
	nowStamp := formatTime(now)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ReclaimResult{}
		rows, err := tx.QueryContext(ctx, s.rebind(
			`SELECT id, attempts FROM jobs WHERE state = ? AND COALESCE(last_heartbeat, started_at) < ?`),
			string(StateProcessing), cutoffStamp,
		)
		if err != nil {
			return err
		}
		type stale struct {
			id       string
			attempts int
		}
		var candidates []stale
		for rows.Next() {
			var c stale
			if err := rows.Scan(&c.id, &c.attempts); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range candidates {
			var (
				res sql.Result
				err error
			)
			if c.attempts < maxAttempts {
				res, err = tx.ExecContext(ctx, s.rebind(
					`UPDATE jobs SET state = ?, worker_id = NULL, started_at = NULL, last_heartbeat = NULL, queued_at = ?, updated_at = ?
                     WHERE id = ? AND state = ? AND COALESCE(last_heartbeat, started_at) < ?`),
					string(StateQueued), nowStamp, nowStamp, c.id, string(StateProcessing), cutoffStamp,
				)
			} else {
				res, err = tx.ExecContext(ctx, s.rebind(
					`UPDATE jobs SET state = ?, failure_kind = ?, failure_reason = ?, completed_at = ?, expires_at = ?, last_heartbeat = NULL, updated_at = ?
                     WHERE id = ? AND state = ? AND COALESCE(last_heartbeat, started_at) < ?`),
					string(StateFailed), services.KindTimeout, ReclaimReason, nowStamp, formatTime(expiresAt), nowStamp,
					c.id, string(StateProcessing), cutoffStamp,
				)
			}
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}
			if c.attempts < maxAttempts {
				result.Requeued = append(result.Requeued, c.id)
			} else {
				result.Failed = append(result.Failed, c.id)
			}
		}
		return nil
	})
	if err != nil {
		return ReclaimResult{}, transient("reclaim stale", err)
	}
	return result, nil
}
