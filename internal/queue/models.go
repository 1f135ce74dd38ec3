package queue

import (
	"fmt"
	"strings"
	"time"

	"clipsafe/internal/services"
)

// State is a job lifecycle state.
type State string

const (
	StateDraft      State = "draft"
	StateConfirmed  State = "confirmed"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

var allStates = []State{
	StateDraft,
	StateConfirmed,
	StateQueued,
	StateProcessing,
	StateDone,
	StateFailed,
	StateCancelled,
}

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a user-supplied string into a State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// IsOpen reports whether the job is still awaiting user input.
func (s State) IsOpen() bool {
	return s == StateDraft || s == StateConfirmed
}

// Operation is the processing recipe chosen by the user.
type Operation string

const (
	OpKeepOriginal Operation = "keep-original"
	OpRemux        Operation = "remux"
	OpTrim         Operation = "trim"
	OpSmartTrim    Operation = "smart-trim"
	OpExtractAudio Operation = "extract-audio"
	OpThumbnail    Operation = "thumbnail"
)

var allOperations = []Operation{
	OpKeepOriginal,
	OpRemux,
	OpTrim,
	OpSmartTrim,
	OpExtractAudio,
	OpThumbnail,
}

// AllOperations lists the supported operations.
func AllOperations() []Operation {
	out := make([]Operation, len(allOperations))
	copy(out, allOperations)
	return out
}

// ParseOperation validates an operation name.
func ParseOperation(value string) (Operation, error) {
	normalized := Operation(strings.ToLower(strings.TrimSpace(value)))
	for _, op := range allOperations {
		if op == normalized {
			return op, nil
		}
	}
	return "", services.Wrap(services.ErrInvalidParameters, "queue", "parse operation",
		fmt.Sprintf("unknown operation %q", value), nil)
}

// Params carries operation arguments. Times are seconds from the start of
// the source; nil means "not given".
type Params struct {
	Start     *float64 `json:"start,omitempty"`
	End       *float64 `json:"end,omitempty"`
	Container string   `json:"container,omitempty"`
	Smart     bool     `json:"smart,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	// Frame picks the thumbnail by frame index, counted from Offset.
	Frame *int `json:"frame,omitempty"`
}

// SourceKind distinguishes uploaded bytes from remote links.
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
)

// Source describes where the job's input comes from. Uploads live in the
// job's storage namespace under Name.
type Source struct {
	Kind            SourceKind `json:"kind"`
	Name            string     `json:"name,omitempty"`
	URL             string     `json:"url,omitempty"`
	Filename        string     `json:"filename"`
	SizeBytes       int64      `json:"size_bytes,omitempty"`
	MIME            string     `json:"mime,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// Result references the produced artifact.
type Result struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	PublicURL string `json:"public_url,omitempty"`
	Reencoded bool   `json:"reencoded,omitempty"`
}

// Job is a single processing request and its lifecycle record.
type Job struct {
	ID            string
	OwnerID       string
	State         State
	Operation     Operation
	Params        Params
	Source        Source
	Result        *Result
	FailureKind   string
	FailureReason string
	Attempts      int
	WorkerID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	QueuedAt      *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ExpiresAt     *time.Time
	LastHeartbeat *time.Time
	PurgedAt      *time.Time
}

// Expired reports whether the job's artifacts are past their lifetime.
func (j *Job) Expired(now time.Time) bool {
	if j == nil {
		return false
	}
	if j.PurgedAt != nil {
		return true
	}
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

// ArtifactKind labels what an artifact row holds.
type ArtifactKind string

const (
	ArtifactSource ArtifactKind = "source"
	ArtifactResult ArtifactKind = "result"
)

// Artifact records one stored object attributable to a job.
type Artifact struct {
	ID        int64
	JobID     string
	Kind      ArtifactKind
	Name      string
	Location  string
	SizeBytes int64
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Filter narrows List queries. Zero values match everything.
type Filter struct {
	OwnerID string
	States  []State
	Limit   int
}

// ReclaimResult lists the jobs touched by a stale-heartbeat sweep.
type ReclaimResult struct {
	Requeued []string
	Failed   []string
}

// ReclaimReason is recorded on jobs that exhausted their attempts while
// their worker stopped heartbeating.
const ReclaimReason = "abandoned by worker"
