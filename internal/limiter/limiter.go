package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clipsafe/internal/config"
	"clipsafe/internal/services"
)

// Window is the sliding window length.
const Window = time.Hour

// Ticket identifies one granted admission.
type Ticket struct {
	UserID string
	ID     string
	At     time.Time
}

// Limiter is implemented by the memory and Redis backends.
type Limiter interface {
	TryAdmit(ctx context.Context, userID string, now time.Time) (Ticket, bool, error)
	Refund(ctx context.Context, ticket Ticket) error
	Remaining(ctx context.Context, userID string, now time.Time) (int, error)
}

// New builds the limiter selected by cfg.Limiter.Backend.
func New(cfg *config.Config, logger *slog.Logger) (Limiter, error) {
	capacity := cfg.Limits.JobsPerHour
	switch cfg.Limiter.Backend {
	case "", config.BackendMemory:
		return NewMemory(capacity, Window), nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Limiter.RedisURL)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "limiter", "parse redis url", "", err)
		}
		return NewRedis(redis.NewClient(opts), cfg.Limiter.KeyPrefix, capacity, Window, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "limiter", "new",
			fmt.Sprintf("unsupported limiter backend %q", cfg.Limiter.Backend), nil)
	}
}
