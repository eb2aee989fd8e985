package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix    = "balance-lock:v1:"
	retryInterval = 25 * time.Millisecond
)

// releaseScript deletes the lease only if the caller still owns it, so a
// slow holder cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with a SetNX lease per balance id, usable
// across multiple service instances. The lease TTL bounds how long a crashed
// holder can block others.
type RedisLocker struct {
	client  *redis.Client
	timeout time.Duration
	lease   time.Duration
	logger  *slog.Logger
}

// NewRedis builds a Redis-backed locker. timeout bounds acquisition, lease
// bounds how long a lock survives a crashed holder.
func NewRedis(client *redis.Client, timeout, lease time.Duration, logger *slog.Logger) *RedisLocker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{client: client, timeout: timeout, lease: lease, logger: logger}
}

// WithBalanceLock acquires the lease for the balance, runs fn, then releases.
func (l *RedisLocker) WithBalanceLock(ctx context.Context, balanceID string, fn func(ctx context.Context) error) error {
	key := lockPrefix + balanceID
	token := uuid.NewString()

	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && l.logger != nil {
			l.logger.Warn("balance lock release failed", "balance_id", balanceID, "error", err)
		}
	}()

	return fn(ctx)
}
