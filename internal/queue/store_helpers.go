package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, owner_id, state, operation, params_json, source_json, result_json, failure_kind, failure_reason, attempts, worker_id, created_at, updated_at, confirmed_at, queued_at, started_at, completed_at, expires_at, last_heartbeat, purged_at"

// timeLayout is fixed-width so timestamps compare correctly as strings in
// both dialects.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job           Job
		state         string
		operation     string
		paramsJSON    sql.NullString
		sourceJSON    string
		resultJSON    sql.NullString
		failureKind   sql.NullString
		failureReason sql.NullString
		workerID      sql.NullString
		createdRaw    string
		updatedRaw    string
		confirmedRaw  sql.NullString
		queuedRaw     sql.NullString
		startedRaw    sql.NullString
		completedRaw  sql.NullString
		expiresRaw    sql.NullString
		heartbeatRaw  sql.NullString
		purgedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.OwnerID,
		&state,
		&operation,
		&paramsJSON,
		&sourceJSON,
		&resultJSON,
		&failureKind,
		&failureReason,
		&job.Attempts,
		&workerID,
		&createdRaw,
		&updatedRaw,
		&confirmedRaw,
		&queuedRaw,
		&startedRaw,
		&completedRaw,
		&expiresRaw,
		&heartbeatRaw,
		&purgedRaw,
	); err != nil {
		return nil, err
	}

	job.State = State(state)
	job.Operation = Operation(operation)
	job.FailureKind = failureKind.String
	job.FailureReason = failureReason.String
	job.WorkerID = workerID.String

	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &job.Params); err != nil {
			return nil, fmt.Errorf("decode params for job %s: %w", job.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(sourceJSON), &job.Source); err != nil {
		return nil, fmt.Errorf("decode source for job %s: %w", job.ID, err)
	}
	if resultJSON.Valid {
		var result Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result for job %s: %w", job.ID, err)
		}
		job.Result = &result
	}

	var err error
	if job.CreatedAt, err = parseTimeString(createdRaw); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTimeString(updatedRaw); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{confirmedRaw, &job.ConfirmedAt},
		{queuedRaw, &job.QueuedAt},
		{startedRaw, &job.StartedAt},
		{completedRaw, &job.CompletedAt},
		{expiresRaw, &job.ExpiresAt},
		{heartbeatRaw, &job.LastHeartbeat},
		{purgedRaw, &job.PurgedAt},
	} {
		if !field.raw.Valid || field.raw.String == "" {
			continue
		}
		ts, err := parseTimeString(field.raw.String)
		if err != nil {
			return nil, err
		}
		*field.dst = &ts
	}
	return &job, nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (Artifact, error) {
	var (
		artifact   Artifact
		kind       string
		createdRaw string
		deletedRaw sql.NullString
	)
	if err := scanner.Scan(
		&artifact.ID,
		&artifact.JobID,
		&kind,
		&artifact.Name,
		&artifact.Location,
		&artifact.SizeBytes,
		&createdRaw,
		&deletedRaw,
	); err != nil {
		return Artifact{}, err
	}
	artifact.Kind = ArtifactKind(kind)
	created, err := parseTimeString(createdRaw)
	if err != nil {
		return Artifact{}, err
	}
	artifact.CreatedAt = created
	if deletedRaw.Valid && deletedRaw.String != "" {
		deleted, err := parseTimeString(deletedRaw.String)
		if err != nil {
			return Artifact{}, err
		}
		artifact.DeletedAt = &deleted
	}
	return artifact, nil
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func stateArgs(states []State) []any {
	args := make([]any, len(states))
	for i, state := range states {
		args[i] = string(state)
	}
	return args
}
