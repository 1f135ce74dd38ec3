package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"clipsafe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrToolExecutionFailed, "worker", "ffmpeg", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrToolExecutionFailed) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"worker", "ffmpeg", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "store", "claim", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]error{
		services.KindInvalidTransition:   services.Wrap(services.ErrInvalidTransition, "jobs", "complete", "", nil),
		services.KindRateLimitExceeded:   services.Wrap(services.ErrRateLimitExceeded, "jobs", "select", "", nil),
		services.KindTimeout:             fmt.Errorf("outer: %w", services.Wrap(services.ErrTimeout, "toolrun", "", "", nil)),
		services.KindStorageUnavailable:  services.Wrap(services.ErrStorageUnavailable, "storage", "put", "", nil),
		services.KindToolExecutionFailed: errors.New("unclassified"),
	}
	for want, err := range cases {
		if got := services.KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
	if services.KindOf(nil) != "" {
		t.Fatal("expected empty kind for nil error")
	}
}

func TestUserMessageHidesInternalDetail(t *testing.T) {
	internal := services.Wrap(services.ErrInvalidTransition, "jobs", "complete", "job abc in state done", nil)
	if msg := services.UserMessage(internal); strings.Contains(msg, "abc") {
		t.Fatalf("internal detail leaked into user message: %q", msg)
	}

	input := services.Wrap(services.ErrInvalidParameters, "ffmpeg", "trim", "trim interval is empty", nil)
	if msg := services.UserMessage(input); !strings.Contains(msg, "trim interval is empty") {
		t.Fatalf("expected actionable detail, got %q", msg)
	}
	if !services.IsUserError(input) {
		t.Fatal("expected invalid parameters to count as user error")
	}
	if services.IsUserError(internal) {
		t.Fatal("invalid transition must not count as user error")
	}
}

func TestIsClassified(t *testing.T) {
	if services.IsClassified(errors.New("plain")) {
		t.Fatal("plain error should not be classified")
	}
	wrapped := fmt.Errorf("outer: %w", services.Wrap(services.ErrTransient, "queue", "claim", "", nil))
	if !services.IsClassified(wrapped) {
		t.Fatal("expected wrapped marker to be classified")
	}
}

func TestMarkerForKindRoundTrips(t *testing.T) {
	for _, marker := range []error{services.ErrTimeout, services.ErrInvalidParameters, services.ErrStorageUnavailable} {
		kind := services.KindOf(services.Wrap(marker, "worker", "run", "", nil))
		if got := services.MarkerForKind(kind); got != marker {
			t.Fatalf("MarkerForKind(%q) = %v, want %v", kind, got, marker)
		}
	}
	if services.MarkerForKind("Bogus") != nil {
		t.Fatal("expected nil marker for unknown kind")
	}
}
