package toolrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"clipsafe/internal/services"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunSuccess(t *testing.T) {
	script := writeScript(t, "echo progress >&2\nexit 0\n")
	result, err := New(nil).Run(context.Background(), script, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 0 || !strings.Contains(result.Stderr, "progress") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunNonZeroExitIsToolFailure(t *testing.T) {
	script := writeScript(t, "echo 'Invalid data found when processing input' >&2\nexit 3\n")
	result, err := New(nil).Run(context.Background(), script, []string{"-i", "x"}, 5*time.Second)
	if !errors.Is(err, services.ErrToolExecutionFailed) {
		t.Fatalf("expected ToolExecutionFailed, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, "sleep 30 &\necho $! > "+pidFile+"\nwait\n")

	started := time.Now()
	_, err := New(nil).Run(context.Background(), script, nil, 300*time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 4*time.Second {
		t.Fatalf("expected prompt kill, took %s", elapsed)
	}

	raw, readErr := os.ReadFile(pidFile)
	if readErr != nil {
		t.Fatalf("read child pid: %v", readErr)
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
	if convErr != nil {
		t.Fatalf("parse child pid: %v", convErr)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if !processAlive(pid) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the group kill", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunParentCancellationIsTransient(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := New(nil).Run(ctx, script, nil, time.Minute)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected Transient on shutdown, got %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := New(nil).Run(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, time.Second)
	if !errors.Is(err, services.ErrToolExecutionFailed) {
		t.Fatalf("expected ToolExecutionFailed, got %v", err)
	}
}

func TestBudget(t *testing.T) {
	base := 2 * time.Minute
	max := 2 * time.Hour
	if got := Budget(base, 3, max, 0); got != base {
		t.Fatalf("unknown duration budget = %s", got)
	}
	if got := Budget(base, 3, max, 60); got != 5*time.Minute {
		t.Fatalf("budget for 60s = %s", got)
	}
	if got := Budget(base, 3, max, 6*3600); got != max {
		t.Fatalf("expected cap, got %s", got)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tail := newTailBuffer(8)
	_, _ = tail.Write([]byte("0123"))
	_, _ = tail.Write([]byte("456789"))
	if got := tail.String(); got != "23456789" {
		t.Fatalf("tail = %q", got)
	}
	_, _ = tail.Write([]byte("abcdefghijkl"))
	if got := tail.String(); got != "efghijkl" {
		t.Fatalf("tail = %q", got)
	}
}

// processAlive treats zombies as dead; the reaper may be slow in containers.
func processAlive(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}
