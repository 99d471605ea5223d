package agent

import (
	"math/rand"
	"sync"
	"time"
)

// defaultFallbackPool holds the short human-style filler replies sent when
// the Agent is unavailable or degraded.
var defaultFallbackPool = []string{
	"我确认下哈，马上回你~",
	"稍等一下哈，我查查再回复你~",
	"这个我帮你问一下，稍后回复~",
	"我看一下哈，马上给你答复~",
}

// FallbackProvider returns the filler reply for degraded mode: the
// configured string when set, otherwise a random pick from the default pool.
type FallbackProvider struct {
	configured string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackProvider builds a provider; configured may be empty.
func NewFallbackProvider(configured string) *FallbackProvider {
	return &FallbackProvider{
		configured: configured,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // message variety, not security
	}
}

// Message returns the fallback reply text.
func (p *FallbackProvider) Message() string {
	if p.configured != "" {
		return p.configured
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return defaultFallbackPool[p.rng.Intn(len(defaultFallbackPool))]
}
