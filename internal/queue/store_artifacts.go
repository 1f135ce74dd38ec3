package queue

import (
	"context"
	"time"
)

const artifactColumns = "id, job_id, kind, name, location, size_bytes, created_at, deleted_at"

// RecordArtifact stores an artifact row for job accounting.
func (s *Store) RecordArtifact(ctx context.Context, artifact Artifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO artifacts (job_id, kind, name, location, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.JobID, string(artifact.Kind), artifact.Name, artifact.Location, artifact.SizeBytes, formatTime(artifact.CreatedAt),
	)
	return transient("record artifact", err)
}

// Artifacts lists every artifact recorded for a job, oldest first.
func (s *Store) Artifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	rows, err := s.query(ctx, "SELECT "+artifactColumns+" FROM artifacts WHERE job_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, transient("artifacts", err)
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, transient("artifacts", err)
		}
		out = append(out, artifact)
	}
	return out, transient("artifacts", rows.Err())
}

// MarkArtifactsDeleted stamps every live artifact of a job as deleted.
func (s *Store) MarkArtifactsDeleted(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE artifacts SET deleted_at = ? WHERE job_id = ? AND deleted_at IS NULL`,
		formatTime(now), jobID,
	)
	return transient("mark artifacts deleted", err)
}

// MarkArtifactDeleted stamps a single named artifact as deleted.
func (s *Store) MarkArtifactDeleted(ctx context.Context, jobID, name string, now time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE artifacts SET deleted_at = ? WHERE job_id = ? AND name = ? AND deleted_at IS NULL`,
		formatTime(now), jobID, name,
	)
	return transient("mark artifact deleted", err)
}

// MarkExpiredPurged stamps purged_at on terminal jobs whose lifetime ended
// at or before now, and marks their artifacts deleted. It returns the
// number of jobs newly marked.
func (s *Store) MarkExpiredPurged(ctx context.Context, now time.Time) (int64, error) {
	stamp := formatTime(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET purged_at = ?, updated_at = ?
         WHERE state IN (?, ?) AND expires_at IS NOT NULL AND expires_at <= ? AND purged_at IS NULL`,
		stamp, stamp, string(StateDone), string(StateFailed), stamp,
	)
	if err != nil {
		return 0, transient("mark purged", err)
	}
	marked, err := res.RowsAffected()
	if err != nil {
		return 0, transient("mark purged", err)
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE artifacts SET deleted_at = ?
         WHERE deleted_at IS NULL AND job_id IN (SELECT id FROM jobs WHERE purged_at IS NOT NULL)`,
		stamp,
	); err != nil {
		return marked, transient("mark purged", err)
	}
	return marked, nil
}
