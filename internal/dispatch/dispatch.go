package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clipsafe/internal/config"
	"clipsafe/internal/services"
)

// DefaultBatch is how many candidates a store poll returns.
const DefaultBatch = 8

// Queue suggests claimable job ids.
type Queue interface {
	// Enqueue announces a newly queued job.
	Enqueue(ctx context.Context, id string) error
	// Next returns candidate ids, oldest first. An empty slice means there
	// is nothing to do right now.
	Next(ctx context.Context) ([]string, error)
	Close() error
}

// Lister is the slice of the job store the queues read from.
type Lister interface {
	QueuedIDs(ctx context.Context, limit int) ([]string, error)
}

// New selects the queue configured in cfg.Queue.Backend.
func New(cfg *config.Config, store Lister, logger *slog.Logger) (Queue, error) {
	fallback := NewStoreQueue(store, DefaultBatch)
	switch cfg.Queue.Backend {
	case "", config.BackendStore:
		return fallback, nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "dispatch", "parse redis url", "", err)
		}
		block := time.Duration(cfg.Worker.PollInterval) * time.Second
		return NewRedisQueue(redis.NewClient(opts), cfg.Queue.RedisKey, block, fallback, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "dispatch", "new",
			fmt.Sprintf("unsupported queue backend %q", cfg.Queue.Backend), nil)
	}
}

// StoreQueue polls the job store.
type StoreQueue struct {
	store Lister
	batch int
}

// NewStoreQueue returns a queue that reads queued rows directly.
func NewStoreQueue(store Lister, batch int) *StoreQueue {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &StoreQueue{store: store, batch: batch}
}

// Enqueue is a no-op; the queued row is the announcement.
func (q *StoreQueue) Enqueue(context.Context, string) error {
	return nil
}

func (q *StoreQueue) Next(ctx context.Context) ([]string, error) {
	return q.store.QueuedIDs(ctx, q.batch)
}

func (q *StoreQueue) Close() error {
	return nil
}
