package filter

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// CachedLists memoizes another Lists implementation with a short TTL so the
// per-message round trips to the operator tables stay off the hot path.
type CachedLists struct {
	next   Lists
	paused *expirable.LRU[string, bool]
	black  *expirable.LRU[string, bool]
	block  *expirable.LRU[string, bool]
}

// NewCachedLists wraps next with a TTL cache. A few seconds is enough: the
// tables change rarely and staleness only delays a pause taking effect.
func NewCachedLists(next Lists, ttl time.Duration) *CachedLists {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	const size = 4096
	return &CachedLists{
		next:   next,
		paused: expirable.NewLRU[string, bool](size, nil, ttl),
		black:  expirable.NewLRU[string, bool](size, nil, ttl),
		block:  expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// IsContactPaused implements Lists.
func (c *CachedLists) IsContactPaused(ctx domain.Context, contactID string) (bool, error) {
	return c.memo(ctx, c.paused, contactID, c.next.IsContactPaused)
}

// IsGroupBlacklisted implements Lists.
func (c *CachedLists) IsGroupBlacklisted(ctx domain.Context, chatID string) (bool, error) {
	return c.memo(ctx, c.black, chatID, c.next.IsGroupBlacklisted)
}

// IsGroupBlocked implements Lists.
func (c *CachedLists) IsGroupBlocked(ctx domain.Context, groupID string) (bool, error) {
	return c.memo(ctx, c.block, groupID, c.next.IsGroupBlocked)
}

func (c *CachedLists) memo(ctx domain.Context, cache *expirable.LRU[string, bool], id string,
	fn func(domain.Context, string) (bool, error)) (bool, error) {
	if v, ok := cache.Get(id); ok {
		return v, nil
	}
	v, err := fn(ctx, id)
	if err != nil {
		return false, err
	}
	cache.Add(id, v)
	return v, nil
}
