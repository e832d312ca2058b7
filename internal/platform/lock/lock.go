// Package lock serialises claim creation and batch building across
// instances. Database row locks remain the source of truth; the distributed
// lock only turns contention into a fast 409 instead of a blocked request.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker acquires a named lock. The returned release func is safe to call
// once the protected work is done, whether it succeeded or not.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// NopLocker always succeeds. Used when LOCK_BACKEND=none.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		return nil
	}, nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key builders shared by the services that lock.
func ReferralKey(referralID uuid.UUID) string {
	return "claims:referral:" + referralID.String()
}

func BatchKey(month string, facilityID *uuid.UUID) string {
	if facilityID == nil {
		return "batches:" + month + ":all"
	}
	return "batches:" + month + ":" + facilityID.String()
}
