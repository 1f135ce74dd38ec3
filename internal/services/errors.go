package services

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle error markers. Callers classify failures with errors.Is against
// these values; the text after the marker is diagnostic only.
var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrRightsNotConfirmed  = errors.New("rights not confirmed")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrTimeout             = errors.New("timeout")
	ErrStorageUnavailable  = errors.New("storage unavailable")

	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Kind names persisted in failure_kind.
const (
	KindInvalidTransition   = "InvalidTransition"
	KindRightsNotConfirmed  = "RightsNotConfirmed"
	KindRateLimitExceeded   = "RateLimitExceeded"
	KindInvalidParameters   = "InvalidParameters"
	KindToolExecutionFailed = "ToolExecutionFailed"
	KindTimeout             = "Timeout"
	KindStorageUnavailable  = "StorageUnavailable"
	KindNotFound            = "NotFound"
	KindConfiguration       = "Configuration"
	KindTransient           = "Transient"
)

var kindOrder = []struct {
	marker error
	kind   string
}{
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrRightsNotConfirmed, KindRightsNotConfirmed},
	{ErrRateLimitExceeded, KindRateLimitExceeded},
	{ErrInvalidParameters, KindInvalidParameters},
	{ErrTimeout, KindTimeout},
	{ErrToolExecutionFailed, KindToolExecutionFailed},
	{ErrStorageUnavailable, KindStorageUnavailable},
	{ErrNotFound, KindNotFound},
	{ErrConfiguration, KindConfiguration},
	{ErrTransient, KindTransient},
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error to its taxonomy name. Unclassified errors report as
// ToolExecutionFailed so a failed job always carries an operational kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range kindOrder {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return KindToolExecutionFailed
}

// MarkerForKind returns the sentinel for a persisted kind name, or nil when
// the name is unknown.
func MarkerForKind(kind string) error {
	for _, entry := range kindOrder {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return nil
}

// IsClassified reports whether err already carries one of the markers above.
func IsClassified(err error) bool {
	for _, entry := range kindOrder {
		if errors.Is(err, entry.marker) {
			return true
		}
	}
	return false
}

// IsUserError reports whether the error stems from user input and should be
// surfaced with actionable text.
func IsUserError(err error) bool {
	return errors.Is(err, ErrRightsNotConfirmed) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrInvalidParameters)
}

// UserMessage renders the text a front-end shows for err. Internal and
// operational failures collapse to generic wording; the diagnostic stays in
// the job record and logs.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRightsNotConfirmed):
		return "Please confirm you own or are licensed to use this media before choosing an operation."
	case errors.Is(err, ErrRateLimitExceeded):
		return "You have reached the hourly job limit. Please try again later."
	case errors.Is(err, ErrInvalidParameters):
		return "The request cannot be processed: " + userDetail(err)
	case errors.Is(err, ErrNotFound):
		return "Job not found."
	case errors.Is(err, ErrTimeout):
		return "Processing took too long and was stopped."
	default:
		return "Processing failed. Please try again with a different file or operation."
	}
}

// userDetail strips the marker and component prefixes from an
// InvalidParameters error, leaving the message part for display.
func userDetail(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, ErrInvalidParameters.Error()+": ")
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		msg = msg[idx+2:]
	}
	return strings.TrimSpace(msg)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
