package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"user_id"`
	State       string  `json:"state"`
	Operation   string  `json:"operation,omitempty"`
	Params      *Params `json:"params,omitempty"`
	Source      Source  `json:"source"`
	Message     string  `json:"message"`
	FailureKind string  `json:"failure_kind,omitempty"`
	Result      *Result `json:"result,omitempty"`
	Expired     bool    `json:"expired"`
	Attempts    int     `json:"attempts"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
	ExpiresAt   string  `json:"expires_at,omitempty"`
}

// Params mirrors queue.Params.
type Params struct {
	Start     *float64 `json:"start,omitempty"`
	End       *float64 `json:"end,omitempty"`
	Container string   `json:"container,omitempty"`
	Smart     bool     `json:"smart,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	Frame     *int     `json:"frame,omitempty"`
}

// Source describes the job input without storage internals.
type Source struct {
	Kind            string  `json:"kind"`
	Filename        string  `json:"filename"`
	URL             string  `json:"url,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Result describes the produced artifact.
type Result struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url,omitempty"`
	Reencoded bool   `json:"reencoded,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a user's history.
type JobListResponse struct {
	Jobs      []Job `json:"jobs"`
	Remaining int   `json:"remaining"`
}

// CreateJobRequest is the JSON body for link drafts. Uploads use multipart
// fields with the same names plus "file".
type CreateJobRequest struct {
	UserID          string  `json:"user_id"`
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// RightsRequest answers the rights confirmation.
type RightsRequest struct {
	Accept bool `json:"accept"`
}

// OperationRequest selects the operation for a confirmed job. Times accept
// seconds or timecodes such as "01:02.5".
type OperationRequest struct {
	Operation string `json:"operation"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Container string `json:"container,omitempty"`
	Smart     bool   `json:"smart,omitempty"`
	Offset    string `json:"offset,omitempty"`
	Frame     *int   `json:"frame,omitempty"`
}

// CancelRequest identifies the user asking for cancellation.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// Error is the body of every failed request.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps Error.
type ErrorResponse struct {
	Error Error `json:"error"`
}

// Health is the /healthz payload.
type Health struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Storage  string         `json:"storage"`
	Queue    map[string]int `json:"queue,omitempty"`
	Active   int            `json:"active_jobs"`
}
