package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipsafe/internal/services"
)

// EnsureUser records a user on first sight and refreshes last_seen_at.
func (s *Store) EnsureUser(ctx context.Context, userID string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return services.Wrap(services.ErrInvalidParameters, "queue", "ensure user", "empty user id", nil)
	}
	stamp := formatTime(now)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO users (id, created_at, last_seen_at) VALUES (?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		userID, stamp, stamp,
	)
	return transient("ensure user", err)
}

// InsertDraft persists a new job in the draft state.
func (s *Store) InsertDraft(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" || job.OwnerID == "" {
		return services.Wrap(services.ErrInvalidParameters, "queue", "insert draft", "job id and owner are required", nil)
	}
	job.State = StateDraft
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	source, err := encodeJSON(job.Source)
	if err != nil {
		return fmt.Errorf("encode source: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (id, owner_id, state, operation, source_json, attempts, created_at, updated_at)
         VALUES (?, ?, ?, '', ?, 0, ?, ?)`,
		job.ID, job.OwnerID, string(StateDraft), source, formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	return transient("insert draft", err)
}

// Get returns the job with the given id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get", err)
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, owner)
	}
	if len(filter.States) > 0 {
		clauses = append(clauses, "state IN ("+makePlaceholders(len(filter.States))+")")
		args = append(args, stateArgs(filter.States)...)
	}
	query := "SELECT " + jobColumns + " FROM jobs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.listJobs(ctx, "list", query, args...)
}

// ListByOwner returns a user's history, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Job, error) {
	return s.List(ctx, Filter{OwnerID: ownerID, Limit: limit})
}

// OpenDrafts returns the owner's jobs still in draft or confirmed.
func (s *Store) OpenDrafts(ctx context.Context, ownerID string) ([]*Job, error) {
	return s.List(ctx, Filter{OwnerID: ownerID, States: []State{StateDraft, StateConfirmed}})
}

// StaleDrafts returns draft or confirmed jobs created before cutoff.
func (s *Store) StaleDrafts(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	return s.listJobs(ctx, "stale drafts",
		"SELECT "+jobColumns+" FROM jobs WHERE state IN (?, ?) AND created_at < ? ORDER BY created_at",
		string(StateDraft), string(StateConfirmed), formatTime(cutoff),
	)
}

// QueuedIDs returns up to limit queued job ids, oldest first.
func (s *Store) QueuedIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.query(ctx,
		fmt.Sprintf("SELECT id FROM jobs WHERE state = ? ORDER BY queued_at, id LIMIT %d", limit),
		string(StateQueued),
	)
	if err != nil {
		return nil, transient("queued ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("queued ids", err)
		}
		ids = append(ids, id)
	}
	return ids, transient("queued ids", rows.Err())
}

// ActiveIDs returns the ids of jobs that are queued or processing.
func (s *Store) ActiveIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.query(ctx, "SELECT id FROM jobs WHERE state IN (?, ?)", string(StateQueued), string(StateProcessing))
	if err != nil {
		return nil, transient("active ids", err)
	}
	defer rows.Close()
	active := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("active ids", err)
		}
		active[id] = struct{}{}
	}
	return active, transient("active ids", rows.Err())
}

// Stats returns job counts keyed by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.query(ctx, "SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, transient("stats", err)
	}
	defer rows.Close()
	stats := make(map[State]int)
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, transient("stats", err)
		}
		stats[State(state)] = count
	}
	return stats, transient("stats", rows.Err())
}

func (s *Store) listJobs(ctx context.Context, operation, query string, args ...any) ([]*Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, transient(operation, err)
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, transient(operation, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, transient(operation, rows.Err())
}
