package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/domain"
)

type countingLists struct {
	fakeLists
	calls int
}

func (c *countingLists) IsContactPaused(ctx domain.Context, id string) (bool, error) {
	c.calls++
	return c.fakeLists.IsContactPaused(ctx, id)
}

func TestCachedListsMemoizes(t *testing.T) {
	inner := &countingLists{fakeLists: fakeLists{paused: map[string]bool{"c1": true}}}
	c := NewCachedLists(inner, time.Minute)

	for i := 0; i < 5; i++ {
		hit, err := c.IsContactPaused(context.Background(), "c1")
		require.NoError(t, err)
		assert.True(t, hit)
	}
	assert.Equal(t, 1, inner.calls)

	hit, err := c.IsContactPaused(context.Background(), "c2")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedListsDoesNotCacheErrors(t *testing.T) {
	inner := &countingLists{fakeLists: fakeLists{err: assert.AnError}}
	c := NewCachedLists(inner, time.Minute)

	_, err := c.IsContactPaused(context.Background(), "c1")
	require.Error(t, err)
	_, err = c.IsContactPaused(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}
