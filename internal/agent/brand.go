package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/hireflow/wecom-relay/internal/domain"
)

const brandConfigKey = "wecom:config:brand"

// BrandConfig is the operator-managed context block merged into every agent
// request. Keys starting with "_" are internal flags and are stripped before
// the request is sent.
type BrandConfig map[string]any

// BrandCache reads the brand config from the KV store and keeps the last
// known good copy per process. The cached copy is a correctness-preserving
// fallback, not authoritative; staleness across processes is acceptable.
type BrandCache struct {
	kv       domain.KV
	lastGood atomic.Pointer[BrandConfig]
}

// NewBrandCache builds a BrandCache.
func NewBrandCache(kv domain.KV) *BrandCache { return &BrandCache{kv: kv} }

// Load returns the current brand config. When the store read fails it falls
// back to the last known good copy; when none exists it returns an empty
// config flagged synced=false.
func (c *BrandCache) Load(ctx domain.Context) (BrandConfig, bool) {
	raw, err := c.kv.Get(ctx, brandConfigKey)
	if err == nil {
		var cfg BrandConfig
		if jerr := json.Unmarshal([]byte(raw), &cfg); jerr == nil {
			c.lastGood.Store(&cfg)
			return cfg, true
		}
		slog.Warn("brand config unmarshal failed", slog.Any("error", err))
	} else if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("brand config read failed", slog.Any("error", err))
	}
	if last := c.lastGood.Load(); last != nil {
		return *last, true
	}
	return BrandConfig{}, false
}

// MergedContext builds the request context from the profile base plus the
// brand config. Internal flags (keys starting with "_") never leave the
// process.
func MergedContext(base map[string]any, brand BrandConfig) map[string]any {
	out := make(map[string]any, len(base)+len(brand))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range brand {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}
