// Package redis provides a Redis-backed login rate limiter.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "eventauth:login:"

// LoginLimiter allows at most MaxAttempts calls per key in each Window.
// The window starts at the first attempt for a key; it is a fixed window,
// not a sliding one.
type LoginLimiter struct {
	client      goredis.UniversalClient
	MaxAttempts int
	Window      time.Duration
}

// NewLoginLimiter creates a limiter over client
func NewLoginLimiter(client goredis.UniversalClient, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{client: client, MaxAttempts: maxAttempts, Window: window}
}

// Allow records an attempt for key and reports whether it is within the limit
func (l *LoginLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := limiterKey(key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.Window).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count <= int64(l.MaxAttempts), nil
}

// Reset clears the attempts recorded for key
func (l *LoginLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, limiterKey(key)).Err()
}

// limiterKey hashes the caller key so identifiers are not stored in clear
func limiterKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + hex.EncodeToString(sum[:])
}
