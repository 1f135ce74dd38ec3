package preflight

import (
	"context"

	"clipsafe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Pinger is implemented by the job store and the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets are the live connections RunAll can exercise. Nil fields are
// skipped.
type Targets struct {
	Store   Pinger
	Storage Pinger
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Scratch directory", cfg.Paths.TempDir))
	results = append(results, CheckFreeSpace("Scratch free space", cfg.Paths.TempDir, cfg.Worker.MinFreeMB))
	results = append(results, CheckTools(ctx, cfg)...)

	if targets.Store != nil {
		results = append(results, CheckPing(ctx, "Job store ("+cfg.Database.Driver+")", targets.Store))
	}
	if targets.Storage != nil {
		results = append(results, CheckPing(ctx, "Artifact storage ("+cfg.Storage.Backend+")", targets.Storage))
	}
	if cfg.Queue.Backend == config.BackendRedis {
		results = append(results, CheckRedis(ctx, "Dispatch queue (redis)", cfg.Queue.RedisURL, true))
	}
	if cfg.Limiter.Backend == config.BackendRedis {
		results = append(results, CheckRedis(ctx, "Rate limiter (redis)", cfg.Limiter.RedisURL, false))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
