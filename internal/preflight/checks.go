package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"clipsafe/internal/config"
	"clipsafe/internal/deps"
	"clipsafe/internal/staging"
)

// pingTimeout bounds every connectivity check.
const pingTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minMB free.
func CheckFreeSpace(name, path string, minMB int) Result {
	free, err := staging.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMB := free / (1024 * 1024)
	if minMB > 0 && freeMB < uint64(minMB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, %d MB required", freeMB, minMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", freeMB)}
}

// CheckTools verifies ffmpeg and ffprobe are installed.
func CheckTools(ctx context.Context, cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(ctx, []deps.Requirement{
		{Name: "FFmpeg", Command: cfg.Worker.FFmpegBinary, Description: "Runs every operation"},
		{Name: "FFprobe", Command: cfg.Worker.FFprobeBinary, Description: "Inspects sources before processing"},
	})
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
			if status.Version != "" {
				result.Detail = status.Version + " (" + status.Command + ")"
			}
		}
		results = append(results, result)
	}
	return results
}

// CheckPing reports whether target answers within pingTimeout.
func CheckPing(ctx context.Context, name string, target Pinger) Result {
	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := target.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckRedis pings the Redis server at rawURL. The dispatch queue falls
// back to store polling, so its check is optional.
func CheckRedis(ctx context.Context, name, rawURL string, optional bool) Result {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return Result{Name: name, Optional: optional, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	opts.MaxRetries = -1
	client := redis.NewClient(opts)
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Optional: optional, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Optional: optional, Detail: opts.Addr + " reachable"}
}

// summarizeError produces a human-readable summary for connectivity failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (service unreachable)"
	}
	return err.Error()
}
