package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clipsafe/internal/logging"
)

// RedisQueue pushes ids onto a Redis list and pops them with BLPOP.
type RedisQueue struct {
	client   redis.UniversalClient
	key      string
	block    time.Duration
	fallback *StoreQueue
	logger   *slog.Logger
}

// NewRedisQueue wraps client. block bounds how long Next waits on an empty
// list before consulting the store.
func NewRedisQueue(client redis.UniversalClient, key string, block time.Duration, fallback *StoreQueue, logger *slog.Logger) *RedisQueue {
	if block <= 0 {
		block = time.Second
	}
	return &RedisQueue{
		client:   client,
		key:      key,
		block:    block,
		fallback: fallback,
		logger:   logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Enqueue pushes id. A Redis failure is logged and swallowed: the store
// poll still finds the job.
func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.RPush(ctx, q.key, id).Err(); err != nil {
		logging.WarnWithContext(q.logger, "redis enqueue failed; job will be found by store poll", "dispatch_enqueue_failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue.redis_url"),
			logging.String(logging.FieldImpact, "job pickup may be delayed by one poll interval"),
		)
	}
	return nil
}

// Next returns the popped id, if any, followed by the store's oldest queued
// ids.
func (q *RedisQueue) Next(ctx context.Context) ([]string, error) {
	var popped string
	res, err := q.client.BLPop(ctx, q.block, q.key).Result()
	switch {
	case err == nil && len(res) == 2:
		popped = res[1]
	case err == nil, errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		q.logger.Debug("redis pop failed; polling store", logging.Error(err))
	}

	ids, err := q.fallback.Next(ctx)
	if err != nil {
		if popped != "" {
			return []string{popped}, nil
		}
		return nil, err
	}
	if popped == "" {
		return ids, nil
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, popped)
	for _, id := range ids {
		if id != popped {
			out = append(out, id)
		}
	}
	return out, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
