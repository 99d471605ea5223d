// Package monitoring defines the lifecycle event recorder the pipeline calls
// at each stage. Recording is fire-and-forget: no implementation may block
// the pipeline for more than a few milliseconds.
package monitoring

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// EventKind enumerates lifecycle points.
type EventKind string

const (
	EventReceived  EventKind = "received"
	EventAIStart   EventKind = "ai_start"
	EventAIEnd     EventKind = "ai_end"
	EventSendStart EventKind = "send_start"
	EventSendEnd   EventKind = "send_end"
	EventSuccess   EventKind = "success"
	EventFailure   EventKind = "failure"
)

// Event is the tagged union shipped to the analytics sink.
type Event struct {
	Kind        EventKind       `json:"kind"`
	MessageID   string          `json:"message_id"`
	ChatID      string          `json:"chat_id,omitempty"`
	ContactID   string          `json:"contact_id,omitempty"`
	ContactName string          `json:"contact_name,omitempty"`
	Content     string          `json:"content,omitempty"`
	Scenario    domain.Scenario `json:"scenario,omitempty"`
	Timestamp   int64           `json:"timestamp"`

	// success-only
	Metadata *SuccessMetadata `json:"metadata,omitempty"`

	// failure-only
	Reason    string           `json:"reason,omitempty"`
	AlertKind domain.AlertKind `json:"alert_kind,omitempty"`
}

// SuccessMetadata is shared by every member of a coalesced batch; only the
// last member carries IsPrimary.
type SuccessMetadata struct {
	ReplyPreview string            `json:"reply_preview"`
	ToolsUsed    []string          `json:"tools_used,omitempty"`
	Usage        domain.TokenUsage `json:"usage"`
	SegmentCount int               `json:"segment_count"`
	IsFallback   bool              `json:"is_fallback"`
	IsPrimary    bool              `json:"is_primary"`
	BatchID      string            `json:"batch_id,omitempty"`
	BatchSize    int               `json:"batch_size,omitempty"`
	Raw          json.RawMessage   `json:"raw,omitempty"`
}

// Recorder receives lifecycle events.
type Recorder interface {
	Record(ctx domain.Context, ev Event)
}

// Now returns the current ms epoch; split out so tests can compare loosely.
func Now() int64 { return time.Now().UnixMilli() }

// LogRecorder writes events to slog; used in dev and as a sink fallback.
type LogRecorder struct{}

// Record implements Recorder.
func (LogRecorder) Record(_ domain.Context, ev Event) {
	slog.Info("monitoring event",
		slog.String("kind", string(ev.Kind)),
		slog.String("message_id", ev.MessageID),
		slog.String("chat_id", ev.ChatID),
	)
}

// NopRecorder discards events; used in tests that do not assert on them.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(domain.Context, Event) {}
