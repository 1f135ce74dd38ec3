package services_test

import (
	"context"
	"testing"

	"clipsafe/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithOperation(ctx, "trim")
	ctx = services.WithWorkerID(ctx, "w1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if op, ok := services.OperationFromContext(ctx); !ok || op != "trim" {
		t.Fatalf("unexpected operation: %v %v", op, ok)
	}
	if wid, ok := services.WorkerIDFromContext(ctx); !ok || wid != "w1" {
		t.Fatalf("unexpected worker id: %v %v", wid, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithOperation(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.OperationFromContext(ctx); ok {
		t.Fatal("expected no operation value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
