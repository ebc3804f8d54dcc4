package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "loan-ledger:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a per-key exclusive lock shared by every replica that talks to the
// same Redis.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

func NewLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &Locker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        logger.With("component", "RedisLocker"),
	}
}

// Lock polls SET NX PX until it wins the key or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.logger.ErrorContext(ctx, "Failed to acquire lock", "key", redisKey, "error", err)
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			l.logger.DebugContext(ctx, "Lock acquired", "key", redisKey)
			return l.unlockFunc(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			l.logger.WarnContext(ctx, "Gave up waiting for lock", "key", redisKey, "error", ctx.Err())
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlockFunc(redisKey, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			l.logger.Error("Failed to release lock", "key", redisKey, "error", err)
		case deleted == 0:
			l.logger.Warn("Lock expired before release", "key", redisKey)
		}
	}
}
