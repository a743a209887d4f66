package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the shared counter store is unreachable.
// Callers inside this package treat it as a signal to fall back, never as
// a request failure.
var ErrStoreUnavailable = errors.New("counter store unavailable")

type redisStore struct {
	client redis.UniversalClient
}

// incr bumps the counter, sets the window TTL on the first hit, and reads
// back the remaining window.
func (s *redisStore) incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Fixed-window semantics: TTL is set only for the first hit.
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return count, ttl, nil
	}

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining < 0 {
		remaining = ttl
	}
	return count, remaining, nil
}

func (s *redisStore) get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *redisStore) setFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) flagTTL(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (s *redisStore) del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
