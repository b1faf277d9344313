// Package redis provides a Redis-based implementation of lock.Locker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"waitnotify-go/internal/config"
	"waitnotify-go/internal/lock"
)

// prefixLock namespaces lock keys in Redis.
const prefixLock = "lock:"

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the TTL only if the key still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements lock.Locker using Redis.
type Locker struct {
	client *redis.Client
}

// NewLocker creates a new Redis-backed locker and verifies the connection.
func NewLocker(cfg *config.RedisConfig) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Locker{client: client}, nil
}

// NewLockerWithClient wraps an existing client.
func NewLockerWithClient(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// lockKey generates the Redis key for a named lock.
func lockKey(key string) string {
	return prefixLock + key
}

// Acquire implements lock.Locker with SET NX PX.
func (l *Locker) Acquire(ctx context.Context, key string, lease time.Duration) (*lock.Lock, error) {
	token := uuid.New().String()
	// Taken before the round trip so the local expiry never outlives the key.
	start := time.Now()

	ok, err := l.client.SetNX(ctx, lockKey(key), token, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return &lock.Lock{
		Key:       key,
		Token:     token,
		ExpiresAt: start.Add(lease),
	}, nil
}

// Release implements lock.Locker.
func (l *Locker) Release(ctx context.Context, held *lock.Lock) error {
	n, err := releaseScript.Run(ctx, l.client, []string{lockKey(held.Key)}, held.Token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

// Extend implements lock.Locker.
func (l *Locker) Extend(ctx context.Context, held *lock.Lock, lease time.Duration) (bool, error) {
	start := time.Now()
	n, err := extendScript.Run(ctx, l.client, []string{lockKey(held.Key)}, held.Token, lease.Milliseconds()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	held.ExpiresAt = start.Add(lease)
	return true, nil
}

// Close closes the Redis client connection.
func (l *Locker) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
