package limiter

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clipsafe/internal/logging"
	"clipsafe/internal/services"
)

// admitScript trims the window, counts what is left and adds the new
// member only when under capacity. Scores are milliseconds.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= capacity then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// Redis shares windows across processes through sorted sets.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
	window   time.Duration
	logger   *slog.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string, capacity int, window time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		window:   window,
		logger:   logging.NewComponentLogger(logger, "limiter"),
	}
}

func (r *Redis) key(userID string) string {
	return r.prefix + userID
}

func (r *Redis) TryAdmit(ctx context.Context, userID string, now time.Time) (Ticket, bool, error) {
	ticket := Ticket{UserID: userID, ID: uuid.NewString(), At: now}
	admitted, err := admitScript.Run(ctx, r.client, []string{r.key(userID)},
		now.UnixMilli(), r.window.Milliseconds(), r.capacity, ticket.ID,
	).Int()
	if err != nil {
		return Ticket{}, false, services.Wrap(services.ErrTransient, "limiter", "admit", "redis unavailable", err)
	}
	if admitted != 1 {
		r.logger.Debug("admission denied", logging.String("user_id", userID))
		return Ticket{}, false, nil
	}
	return ticket, true, nil
}

func (r *Redis) Refund(ctx context.Context, ticket Ticket) error {
	if err := r.client.ZRem(ctx, r.key(ticket.UserID), ticket.ID).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "limiter", "refund", "redis unavailable", err)
	}
	return nil
}

func (r *Redis) Remaining(ctx context.Context, userID string, now time.Time) (int, error) {
	low := "(" + strconv.FormatInt(now.Add(-r.window).UnixMilli(), 10)
	count, err := r.client.ZCount(ctx, r.key(userID), low, "+inf").Result()
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "limiter", "remaining", "redis unavailable", err)
	}
	remaining := r.capacity - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
