package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipsafe/internal/config"
	"clipsafe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("scratch", dir, 0); !result.Passed {
		t.Fatalf("expected pass with no minimum, got %s", result.Detail)
	}
	if result := CheckFreeSpace("scratch", dir, 1<<40); result.Passed {
		t.Fatal("expected failure for an impossible minimum")
	}
}

func TestCheckToolsWithStubs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToolScripts(
		"echo 'ffmpeg version 7.0 Copyright (c) 2000-2024'\n",
		"echo 'ffprobe version 7.0 Copyright (c) 2000-2024'\n",
	))
	results := CheckTools(context.Background(), cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("expected %s to pass, got %s", r.Name, r.Detail)
		}
	}
	if !strings.HasPrefix(results[0].Detail, "ffmpeg version 7.0") {
		t.Fatalf("expected version in detail, got %q", results[0].Detail)
	}
}

func TestCheckToolsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.FFmpegBinary = "clipsafe-no-such-ffmpeg"
	results := CheckTools(context.Background(), cfg)
	if results[0].Passed {
		t.Fatal("expected missing ffmpeg to fail")
	}
	if len(Failed(results)) == 0 {
		t.Fatal("expected a required failure")
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckPing(t *testing.T) {
	ok := CheckPing(context.Background(), "store", pingFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %s", ok.Detail)
	}
	bad := CheckPing(context.Background(), "store", pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	if bad.Passed || bad.Detail != "connection refused" {
		t.Fatalf("unexpected result %#v", bad)
	}
	slow := CheckPing(context.Background(), "store", pingFunc(func(ctx context.Context) error { return context.DeadlineExceeded }))
	if slow.Detail != "timed out (service unresponsive)" {
		t.Fatalf("unexpected timeout detail %q", slow.Detail)
	}
}

func TestCheckRedisUnreachableQueueIsOptional(t *testing.T) {
	result := CheckRedis(context.Background(), "queue", "redis://127.0.0.1:1/0", true)
	if result.Passed {
		t.Fatal("expected unreachable redis to fail")
	}
	if len(Failed([]Result{result})) != 0 {
		t.Fatal("optional failures must not block startup")
	}
	if bad := CheckRedis(context.Background(), "limiter", "not a url", false); bad.Passed || bad.Detail == "" {
		t.Fatalf("expected invalid url failure, got %#v", bad)
	}
}

func TestRunAllIncludesConfiguredChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Worker.MinFreeMB = 0
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Limiter.Backend = config.BackendRedis
	cfg.Limiter.RedisURL = "redis://127.0.0.1:1/0"

	results := RunAll(context.Background(), cfg, Targets{Store: store})
	names := make(map[string]Result, len(results))
	for _, r := range results {
		names[r.Name] = r
	}
	for _, want := range []string{"Data directory", "Scratch directory", "FFmpeg", "FFprobe", "Job store (sqlite)", "Rate limiter (redis)"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("missing check %q in %v", want, results)
		}
	}
	if !names["Job store (sqlite)"].Passed {
		t.Fatalf("expected store ping to pass: %s", names["Job store (sqlite)"].Detail)
	}
	if _, ok := names["Dispatch queue (redis)"]; ok {
		t.Fatal("queue check must be skipped for the store backend")
	}
}
