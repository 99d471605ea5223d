package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/alert"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/filter"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

const replyPreviewRunes = 200

// Drainer is the aggregator surface the processor needs.
type Drainer interface {
	Drain(ctx domain.Context, chatID string) ([]domain.InboundRecord, string, error)
	RequeueIfPending(ctx domain.Context, chatID string) error
}

// FallbackSource supplies the filler reply for degraded mode.
type FallbackSource interface {
	Message() string
}

// Processor drives one coalesced batch end to end: drain, agent, paced
// delivery, terminal bookkeeping.
type Processor struct {
	Aggregator Drainer
	History    domain.HistoryStore
	Dedup      domain.DedupStore
	Gateway    domain.AgentGateway
	Pacer      domain.Pacer
	Sender     domain.Sender
	Fallback   FallbackSource
	Notifier   domain.Notifier
	Recorder   monitoring.Recorder
	Scenario   domain.Scenario
}

// Process handles the job for one conversation. A non-nil return means the
// queue should retry: that only happens before the batch is drained, so a
// retry never double-processes messages. After the drain every failure is
// terminal and handled here (failure events, alert, fallback attempt).
func (p *Processor) Process(ctx domain.Context, chatID string) error {
	msgs, batchID, err := p.Aggregator.Drain(ctx, chatID)
	if err != nil {
		return fmt.Errorf("op=pipeline.Process drain: %w", err)
	}
	if len(msgs) == 0 {
		// Replaced by a newer job, or the sweeper raced us. Nothing to do.
		return nil
	}
	observability.BatchSizeHistogram.Observe(float64(len(msgs)))

	// Follow-up for anything that arrives while we work, success or not.
	defer func() {
		if err := p.Aggregator.RequeueIfPending(ctx, chatID); err != nil {
			slog.Error("requeue pending failed", slog.String("chat_id", chatID), slog.Any("error", err))
		}
	}()

	last := msgs[len(msgs)-1]
	dctx := domain.DeliveryContext{
		MessageID:  last.MessageID,
		ChatID:     chatID,
		BotID:      last.BotID,
		ContactID:  last.ContactID,
		RoomID:     last.RoomID,
		Token:      last.Token,
		APIVariant: last.APIVariant,
	}

	// History was appended at ingress; exclude the trigger message so it is
	// not duplicated against UserMessage.
	histCtx, err := p.History.GetForContext(ctx, chatID, last.MessageID)
	if err != nil {
		slog.Warn("history context load failed, proceeding without",
			slog.String("chat_id", chatID), slog.Any("error", err))
		histCtx = nil
	}

	res, err := p.Gateway.Invoke(ctx, domain.AgentInvocation{
		ConversationID: chatID,
		UserMessage:    filter.ExtractContent(last),
		History:        histCtx,
		Scenario:       p.Scenario,
		MessageID:      last.MessageID,
	})
	if err != nil {
		p.fail(ctx, msgs, dctx, batchID, err)
		return nil
	}

	reply := res.ReplyText
	if res.IsFallback {
		if reply == "" {
			reply = p.Fallback.Message()
		}
		p.Notifier.Notify(ctx, domain.Alert{
			Kind:  domain.AlertKindAgent,
			Level: domain.AlertError,
			Title: alert.TitleHumanIntervention,
			Body:  "Agent degraded to fallback: " + res.FallbackReason,
			Fields: map[string]string{
				"chat_id":      chatID,
				"contact_name": last.ContactName,
				"batch_id":     batchID,
			},
		})
	}

	dres, err := p.Pacer.Deliver(ctx, reply, dctx)
	if err != nil {
		p.fail(ctx, msgs, dctx, batchID, err)
		return nil
	}
	if dres.SegmentCount > 0 && dres.FailedSegments == dres.SegmentCount {
		// Nothing reached the user; treat like a terminal failure.
		p.fail(ctx, msgs, dctx, batchID,
			fmt.Errorf("op=pipeline.Process: %w: all %d segments failed", domain.ErrDelivery, dres.SegmentCount))
		return nil
	}
	if dres.FailedSegments > 0 {
		p.Notifier.Notify(ctx, domain.Alert{
			Kind:  domain.AlertKindDelivery,
			Level: domain.AlertWarning,
			Title: "部分消息段发送失败",
			Body:  fmt.Sprintf("%d/%d segments failed", dres.FailedSegments, dres.SegmentCount),
			Fields: map[string]string{
				"chat_id":  chatID,
				"batch_id": batchID,
			},
		})
	}

	if err := p.History.Append(ctx, chatID, domain.HistoryEntry{
		MessageID: last.MessageID + ":reply",
		Role:      domain.RoleAssistant,
		Content:   reply,
		Timestamp: monitoring.Now(),
	}); err != nil {
		slog.Error("reply history append failed", slog.String("chat_id", chatID), slog.Any("error", err))
	}

	meta := monitoring.SuccessMetadata{
		ReplyPreview: previewText(reply),
		ToolsUsed:    res.ToolsUsed,
		Usage:        res.Usage,
		SegmentCount: dres.SegmentCount,
		IsFallback:   res.IsFallback,
		BatchID:      batchID,
		BatchSize:    len(msgs),
		Raw:          res.Raw,
	}
	// The marker is the success gate: a member whose MarkProcessed returns
	// false was already completed by another batch (platform redelivery or a
	// concurrent worker) and must not emit a second terminal event. A marker
	// error cannot distinguish the two, so it counts as won rather than
	// silently dropping the event.
	won := make([]bool, len(msgs))
	lastWon := -1
	for i, m := range msgs {
		first, err := p.Dedup.MarkProcessed(ctx, m.MessageID)
		if err != nil {
			slog.Warn("mark processed failed", slog.String("message_id", m.MessageID), slog.Any("error", err))
			first = true
		}
		won[i] = first
		if first {
			lastWon = i
		}
	}
	for i, m := range msgs {
		if !won[i] {
			slog.Debug("already processed, skipping terminal event",
				slog.String("message_id", m.MessageID), slog.String("chat_id", chatID))
			continue
		}
		mm := meta
		mm.IsPrimary = i == lastWon
		p.Recorder.Record(ctx, monitoring.Event{
			Kind:        monitoring.EventSuccess,
			MessageID:   m.MessageID,
			ChatID:      chatID,
			ContactID:   m.ContactID,
			ContactName: m.ContactName,
			Scenario:    p.Scenario,
			Timestamp:   monitoring.Now(),
			Metadata:    &mm,
		})
	}

	slog.Info("batch processed",
		slog.String("chat_id", chatID),
		slog.String("batch_id", batchID),
		slog.Int("batch_size", len(msgs)),
		slog.Int("segments", dres.SegmentCount),
		slog.Bool("fallback", res.IsFallback),
	)
	return nil
}

// fail is the terminal error path after the drain: failure events for every
// batch member, an operator alert, and a best-effort fallback reply so the
// user is not left hanging. Dedup markers are intentionally not set so a
// platform redelivery can retry the messages.
func (p *Processor) fail(ctx domain.Context, msgs []domain.InboundRecord, dctx domain.DeliveryContext, batchID string, cause error) {
	kind, level := classify(cause)

	slog.Error("batch failed",
		slog.String("chat_id", dctx.ChatID),
		slog.String("batch_id", batchID),
		slog.String("alert_kind", string(kind)),
		slog.Any("error", cause),
	)

	for _, m := range msgs {
		p.Recorder.Record(ctx, monitoring.Event{
			Kind:        monitoring.EventFailure,
			MessageID:   m.MessageID,
			ChatID:      dctx.ChatID,
			ContactID:   m.ContactID,
			ContactName: m.ContactName,
			Scenario:    p.Scenario,
			Timestamp:   monitoring.Now(),
			Reason:      cause.Error(),
			AlertKind:   kind,
		})
	}

	fields := map[string]string{
		"chat_id":  dctx.ChatID,
		"batch_id": batchID,
		"error":    cause.Error(),
	}
	var inv *domain.AgentInvocationError
	if errors.As(cause, &inv) {
		if inv.MaskedAPIKey != "" {
			fields["api_key"] = inv.MaskedAPIKey
		}
		if inv.RequestBody != "" {
			fields["request_body"] = previewText(inv.RequestBody)
		}
		for k, v := range inv.RequestHeaders {
			fields["header_"+k] = v
		}
	}
	p.Notifier.Notify(ctx, domain.Alert{
		Kind:   kind,
		Level:  level,
		Title:  alert.TitleHumanIntervention,
		Body:   cause.Error(),
		Fields: fields,
	})

	// Degraded reply, sent directly without pacing. If even this cannot
	// reach the user, escalate.
	if err := p.Sender.SendText(ctx, dctx, p.Fallback.Message()); err != nil {
		p.Notifier.Notify(ctx, domain.Alert{
			Kind:  domain.AlertKindDelivery,
			Level: domain.AlertCritical,
			Title: alert.TitleHumanIntervention,
			Body:  "fallback delivery failed, user received nothing: " + err.Error(),
			Fields: map[string]string{
				"chat_id":  dctx.ChatID,
				"batch_id": batchID,
			},
		})
	}
}

// classify maps a terminal error to its alert kind and severity.
func classify(err error) (domain.AlertKind, domain.AlertLevel) {
	switch {
	case errors.Is(err, domain.ErrAgentRateLimited):
		return domain.AlertKindAgent, domain.AlertWarning
	case errors.Is(err, domain.ErrAgentContextMissing):
		return domain.AlertKindAgent, domain.AlertWarning
	case domain.IsAgentError(err):
		return domain.AlertKindAgent, domain.AlertError
	case errors.Is(err, domain.ErrDelivery):
		return domain.AlertKindDelivery, domain.AlertCritical
	default:
		return domain.AlertKindMessage, domain.AlertError
	}
}

func previewText(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= replyPreviewRunes {
		return string(r)
	}
	return string(r[:replyPreviewRunes]) + "…"
}
