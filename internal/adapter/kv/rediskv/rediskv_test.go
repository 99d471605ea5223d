package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetMissingIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetWithTTLRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "k", "v", time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetIfAbsentTTL(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	set, err := s.SetIfAbsentTTL(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetIfAbsentTTL(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestListOps(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ListAppend(ctx, "l", "a", "b", "c"))

	n, err := s.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	vals, err := s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vals)

	// Trim everything before index 2: appends racing a drain survive.
	require.NoError(t, s.ListTrim(ctx, "l", 2, -1))
	vals, err = s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, vals)
}

func TestListLenMissingKey(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.ListLen(context.Background(), "absent")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAndExpire(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "a", "1", 0))
	require.NoError(t, s.SetWithTTL(ctx, "b", "2", 0))
	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Expire(ctx, "b", time.Second))
	mr.FastForward(2 * time.Second)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "pfx:1", "x", 0))
	require.NoError(t, s.SetWithTTL(ctx, "pfx:2", "x", 0))
	require.NoError(t, s.SetWithTTL(ctx, "other", "x", 0))

	var keys []string
	var cursor uint64
	for {
		next, batch, err := s.Scan(ctx, cursor, "pfx:*", 10)
		require.NoError(t, err)
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, []string{"pfx:1", "pfx:2"}, keys)
}
