// Package rediskv implements the domain.KV port on Redis.
//
// Every operation retries transient failures a bounded number of times with
// exponential backoff before surfacing an error wrapping domain.ErrTransient.
package rediskv

import (
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/hireflow/wecom-relay/internal/domain"
)

const (
	maxRetries      = 3
	initialInterval = 50 * time.Millisecond
)

// Store implements domain.KV.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// retry runs fn with bounded exponential backoff. Context cancellation and
// redis.Nil are not retried.
func (s *Store) retry(ctx domain.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil || errors.Is(err, redis.Nil) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
}

// Get returns the string value at key or domain.ErrNotFound.
func (s *Store) Get(ctx domain.Context, key string) (string, error) {
	var val string
	err := s.retry(ctx, "kv.Get", func() error {
		v, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// SetWithTTL stores value at key with a relative TTL.
func (s *Store) SetWithTTL(ctx domain.Context, key, value string, ttl time.Duration) error {
	return s.retry(ctx, "kv.SetWithTTL", func() error {
		return s.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// SetIfAbsentTTL atomically sets key when absent. Underpins the dedup marker.
func (s *Store) SetIfAbsentTTL(ctx domain.Context, key, value string, ttl time.Duration) (bool, error) {
	var set bool
	err := s.retry(ctx, "kv.SetIfAbsentTTL", func() error {
		ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		set = ok
		return nil
	})
	return set, err
}

// ListAppend pushes values onto the tail of the list at key.
func (s *Store) ListAppend(ctx domain.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.retry(ctx, "kv.ListAppend", func() error {
		return s.rdb.RPush(ctx, key, args...).Err()
	})
}

// ListRange returns list elements in [start, stop] (inclusive, negative
// indexes count from the tail).
func (s *Store) ListRange(ctx domain.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.retry(ctx, "kv.ListRange", func() error {
		v, err := s.rdb.LRange(ctx, key, start, stop).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ListTrim keeps only [start, stop] of the list at key.
func (s *Store) ListTrim(ctx domain.Context, key string, start, stop int64) error {
	return s.retry(ctx, "kv.ListTrim", func() error {
		return s.rdb.LTrim(ctx, key, start, stop).Err()
	})
}

// ListLen returns the list length (0 for a missing key).
func (s *Store) ListLen(ctx domain.Context, key string) (int64, error) {
	var n int64
	err := s.retry(ctx, "kv.ListLen", func() error {
		v, err := s.rdb.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// Delete removes keys.
func (s *Store) Delete(ctx domain.Context, keys ...string) error {
	return s.retry(ctx, "kv.Delete", func() error {
		return s.rdb.Del(ctx, keys...).Err()
	})
}

// Expire refreshes the TTL at key.
func (s *Store) Expire(ctx domain.Context, key string, ttl time.Duration) error {
	return s.retry(ctx, "kv.Expire", func() error {
		return s.rdb.Expire(ctx, key, ttl).Err()
	})
}

// Scan iterates keys matching a glob pattern; non-blocking, for sweepers.
func (s *Store) Scan(ctx domain.Context, cursor uint64, match string, count int64) (uint64, []string, error) {
	var (
		next uint64
		keys []string
	)
	err := s.retry(ctx, "kv.Scan", func() error {
		k, c, err := s.rdb.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return err
		}
		next, keys = c, k
		return nil
	})
	return next, keys, err
}
