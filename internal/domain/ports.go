package domain

import "time"

// KV is the key-value store abstraction the pipeline relies on. All methods
// may fail transiently; implementations retry a bounded number of times and
// then surface errors wrapping ErrTransient.
type KV interface {
	Get(ctx Context, key string) (string, error)
	SetWithTTL(ctx Context, key, value string, ttl time.Duration) error
	// SetIfAbsentTTL atomically sets key when absent; returns true iff set.
	SetIfAbsentTTL(ctx Context, key, value string, ttl time.Duration) (bool, error)
	ListAppend(ctx Context, key string, values ...string) error
	ListRange(ctx Context, key string, start, stop int64) ([]string, error)
	ListTrim(ctx Context, key string, start, stop int64) error
	ListLen(ctx Context, key string) (int64, error)
	Delete(ctx Context, keys ...string) error
	Expire(ctx Context, key string, ttl time.Duration) error
	// Scan iterates keys matching a glob pattern without blocking the store.
	Scan(ctx Context, cursor uint64, match string, count int64) (uint64, []string, error)
}

// Queue is the delayed job queue abstraction. Enqueue with a JobID replaces
// an existing waiting/delayed job with the same id (delay restarts); callers
// must pick a derived id when the existing job is active.
type Queue interface {
	Enqueue(ctx Context, task string, payload []byte, opts EnqueueOpts) error
	JobState(ctx Context, id string) (JobState, error)
}

// DedupStore provides the at-most-once marker per inbound message id.
type DedupStore interface {
	// MarkProcessed returns true iff the caller is the first to mark id.
	MarkProcessed(ctx Context, messageID string) (bool, error)
	// IsProcessed is advisory; MarkProcessed is the real gate.
	IsProcessed(ctx Context, messageID string) (bool, error)
}

// HistoryStore is the append-only capped per-conversation log.
type HistoryStore interface {
	Append(ctx Context, chatID string, entry HistoryEntry) error
	// GetForContext returns the last turns as role/content pairs, dropping
	// the entry whose message id equals excludeMessageID (may be empty).
	GetForContext(ctx Context, chatID, excludeMessageID string) ([]ContextMessage, error)
	GetDetail(ctx Context, chatID string) ([]HistoryEntry, error)
	ScanChatIDs(ctx Context) ([]string, error)
}

// AgentGateway invokes the external LLM agent.
type AgentGateway interface {
	Invoke(ctx Context, in AgentInvocation) (AgentResult, error)
}

// Sender is the outbound send RPC.
type Sender interface {
	SendText(ctx Context, dctx DeliveryContext, text string) error
}

// Pacer segments a reply and delivers it with typing-like pacing.
type Pacer interface {
	Deliver(ctx Context, replyText string, dctx DeliveryContext) (DeliveryResult, error)
}

// AlertLevel grades operator alerts.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// AlertKind classifies what failed.
type AlertKind string

const (
	AlertKindAgent    AlertKind = "agent"
	AlertKindDelivery AlertKind = "delivery"
	AlertKindMessage  AlertKind = "message"
)

// Alert is a human-facing operator notification.
type Alert struct {
	Kind   AlertKind
	Level  AlertLevel
	Title  string
	Body   string
	Fields map[string]string
}

// Notifier delivers alerts to operators. Implementations must not block the
// pipeline; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx Context, a Alert)
}
