package toolrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"clipsafe/internal/logging"
	"clipsafe/internal/services"
)

// DefaultStderrLimit is the number of trailing stderr bytes kept.
const DefaultStderrLimit = 4 * 1024

// waitDelay bounds how long Wait blocks on inherited pipes after the kill.
const waitDelay = 5 * time.Second

// Result describes a finished invocation.
type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Runner executes tools with a deadline.
type Runner struct {
	logger      *slog.Logger
	stderrLimit int
}

// New constructs a Runner. A nil logger discards output.
func New(logger *slog.Logger) *Runner {
	return &Runner{
		logger:      logging.NewComponentLogger(logger, "toolrun"),
		stderrLimit: DefaultStderrLimit,
	}
}

// Run executes binary with args and waits for it to exit or for timeout to
// elapse. A non-zero exit yields ToolExecutionFailed; an expired deadline
// yields Timeout. Cancellation of ctx itself is reported as Transient so the
// job is left for reclaim rather than failed.
func (r *Runner) Run(ctx context.Context, binary string, args []string, timeout time.Duration) (Result, error) {
	if r == nil {
		r = New(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "toolrun", "run", "timeout must be positive", nil)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stderr := newTailBuffer(r.stderrLimit)
	cmd := exec.CommandContext(runCtx, binary, args...) //nolint:gosec
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	logger := logging.WithContext(ctx, r.logger)
	logger.Debug("starting tool",
		logging.String("binary", binary),
		logging.String("args", strings.Join(args, " ")),
		logging.Duration("timeout", timeout),
	)

	started := time.Now()
	err := cmd.Run()
	result := Result{
		ExitCode: exitCode(cmd, err),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		return result, services.Wrap(services.ErrTransient, "toolrun", binaryName(binary), "interrupted by shutdown", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logging.WarnWithContext(logger, "tool exceeded its deadline", "tool_timeout",
			logging.String("binary", binary),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "job will fail with Timeout"),
			logging.String(logging.FieldErrorHint, "raise worker.tool_timeout_factor or tool_timeout_max"),
		)
		return result, services.Wrap(services.ErrTimeout, "toolrun", binaryName(binary),
			fmt.Sprintf("killed after %s", timeout), nil)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, services.Wrap(services.ErrToolExecutionFailed, "toolrun", binaryName(binary),
			fmt.Sprintf("exit status %d: %s", result.ExitCode, lastLine(result.Stderr)), nil)
	}
	return result, services.Wrap(services.ErrToolExecutionFailed, "toolrun", binaryName(binary), "start failed", err)
}

// Budget returns base + factor*duration capped at max. An unknown duration
// gets the base allowance.
func Budget(base time.Duration, factor float64, max time.Duration, durationSeconds float64) time.Duration {
	budget := base
	if durationSeconds > 0 && factor > 0 {
		budget += time.Duration(factor * durationSeconds * float64(time.Second))
	}
	if max > 0 && budget > max {
		budget = max
	}
	return budget
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func binaryName(binary string) string {
	if idx := strings.LastIndex(binary, "/"); idx >= 0 {
		return binary[idx+1:]
	}
	return binary
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndex(text, "\n"); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
