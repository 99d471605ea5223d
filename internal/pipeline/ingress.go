// Package pipeline orchestrates the inbound-to-outbound flow: ingress
// (webhook side) and the worker that drains aggregated batches, invokes the
// Agent, and delivers the paced reply.
package pipeline

import (
	"log/slog"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/filter"
	"github.com/hireflow/wecom-relay/internal/history"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

// Ingress handles one normalized inbound record on the webhook path. It
// performs only KV writes and a queue enqueue so the webhook can return
// immediately; the upstream retries on slow responses.
type Ingress struct {
	Filter     *filter.Filter
	History    domain.HistoryStore
	Dedup      domain.DedupStore
	Aggregator Adder
	Recorder   monitoring.Recorder
	Scenario   domain.Scenario
}

// Adder is the aggregator surface ingress needs.
type Adder interface {
	Add(ctx domain.Context, rec domain.InboundRecord) error
}

// Handle runs the ingress steps and returns the webhook response message.
// It never returns an error to the caller: failures are logged and the
// webhook still answers success so the platform does not retry forever.
func (in *Ingress) Handle(ctx domain.Context, rec domain.InboundRecord) string {
	if rec.IsSelf {
		// The bot's own outgoing message echoed back: record it as an
		// assistant turn so history stays faithful.
		content := filter.ExtractContent(rec)
		if err := in.History.Append(ctx, rec.ChatID, history.EntryFromRecord(rec, domain.RoleAssistant, content)); err != nil {
			slog.Error("self history append failed", slog.String("chat_id", rec.ChatID), slog.Any("error", err))
		}
		observability.WebhookMessagesTotal.WithLabelValues("self").Inc()
		return "Self message recorded"
	}

	d := in.Filter.Decide(ctx, rec)
	switch d.Verdict {
	case filter.VerdictReject:
		observability.WebhookMessagesTotal.WithLabelValues("rejected").Inc()
		slog.Debug("message rejected",
			slog.String("message_id", rec.MessageID),
			slog.String("reason", d.Reason))
		return "Message filtered: " + d.Reason
	case filter.VerdictRecordOnly:
		content := filter.ExtractContent(rec)
		if err := in.History.Append(ctx, rec.ChatID, history.EntryFromRecord(rec, domain.RoleUser, content)); err != nil {
			slog.Error("record-only history append failed", slog.String("chat_id", rec.ChatID), slog.Any("error", err))
		}
		observability.WebhookMessagesTotal.WithLabelValues("record_only").Inc()
		return "Message recorded to history only"
	}

	// Advisory pre-check; MarkProcessed in the worker is the real gate, so a
	// lost race here is a no-op.
	if seen, err := in.Dedup.IsProcessed(ctx, rec.MessageID); err == nil && seen {
		observability.WebhookMessagesTotal.WithLabelValues("duplicate").Inc()
		return "Duplicate message ignored"
	}

	if err := in.History.Append(ctx, rec.ChatID, history.EntryFromRecord(rec, domain.RoleUser, d.Content)); err != nil {
		slog.Error("history append failed", slog.String("chat_id", rec.ChatID), slog.Any("error", err))
	}

	in.Recorder.Record(ctx, monitoring.Event{
		Kind:        monitoring.EventReceived,
		MessageID:   rec.MessageID,
		ChatID:      rec.ChatID,
		ContactID:   rec.ContactID,
		ContactName: rec.ContactName,
		Content:     d.Content,
		Scenario:    in.Scenario,
		Timestamp:   monitoring.Now(),
	})

	if err := in.Aggregator.Add(ctx, rec); err != nil {
		// The record is already in the pending list (or the append itself
		// failed); the next inbound or the sweeper re-attempts the enqueue.
		slog.Error("aggregator add failed", slog.String("chat_id", rec.ChatID), slog.Any("error", err))
	}
	observability.WebhookMessagesTotal.WithLabelValues("queued").Inc()
	return "Message queued"
}
