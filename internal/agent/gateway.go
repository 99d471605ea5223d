package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

var weekdayZH = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

var shanghai = mustLoadShanghai()

func mustLoadShanghai() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// CurrentTimeZH renders t as "YYYY-MM-DD HH:MM 星期X" in Asia/Shanghai.
func CurrentTimeZH(t time.Time) string {
	t = t.In(shanghai)
	return fmt.Sprintf("%s %s", t.Format("2006-01-02 15:04"), weekdayZH[int(t.Weekday())])
}

// Gateway implements domain.AgentGateway: it builds the request context,
// invokes the Agent, and normalizes the reply.
type Gateway struct {
	client   *Client
	profiles *ProfileRegistry
	brand    *BrandCache
	recorder monitoring.Recorder
	now      func() time.Time
}

// NewGateway wires a Gateway.
func NewGateway(client *Client, profiles *ProfileRegistry, brand *BrandCache, rec monitoring.Recorder) *Gateway {
	return &Gateway{client: client, profiles: profiles, brand: brand, recorder: rec, now: time.Now}
}

// Invoke performs one agent call for a conversation turn.
func (g *Gateway) Invoke(ctx domain.Context, in domain.AgentInvocation) (domain.AgentResult, error) {
	profile, err := g.profiles.Get(in.Scenario)
	if err != nil {
		return domain.AgentResult{}, err
	}

	brand, synced := g.brand.Load(ctx)
	if !synced {
		slog.Warn("brand config not synced, using empty config", slog.String("conversation_id", in.ConversationID))
	}
	reqCtx := MergedContext(profile.BaseContext, brand)

	systemPrompt := strings.ReplaceAll(profile.SystemPrompt, "{{CURRENT_TIME}}", CurrentTimeZH(g.now()))

	msgs := make([]SimpleMessage, 0, len(in.History))
	for _, m := range in.History {
		msgs = append(msgs, SimpleMessage{Role: string(m.Role), Content: m.Content})
	}

	req := Request{
		ConversationID: in.ConversationID,
		UserMessage:    in.UserMessage,
		Messages:       msgs,
		Model:          profile.Model,
		SystemPrompt:   systemPrompt,
		PromptType:     profile.PromptType,
		AllowedTools:   profile.AllowedTools,
		Context:        reqCtx,
	}

	g.recorder.Record(ctx, monitoring.Event{
		Kind: monitoring.EventAIStart, MessageID: in.MessageID, ChatID: in.ConversationID, Timestamp: monitoring.Now(),
	})
	start := g.now()
	defer func() {
		observability.AgentRequestDuration.Observe(time.Since(start).Seconds())
		g.recorder.Record(ctx, monitoring.Event{
			Kind: monitoring.EventAIEnd, MessageID: in.MessageID, ChatID: in.ConversationID, Timestamp: monitoring.Now(),
		})
	}()

	res, err := g.client.Chat(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		observability.AgentRequestsTotal.WithLabelValues("error").Inc()
		return domain.AgentResult{ProcessingTime: elapsed}, err
	}

	if res.Fallback != nil {
		observability.AgentRequestsTotal.WithLabelValues("fallback").Inc()
		slog.Warn("agent degraded to fallback",
			slog.String("conversation_id", in.ConversationID),
			slog.String("reason", res.Fallback.Reason))
		return domain.AgentResult{
			ReplyText:      res.Fallback.Message,
			IsFallback:     true,
			FallbackReason: res.Fallback.Reason,
			ProcessingTime: elapsed,
			Raw:            res.Raw,
		}, nil
	}

	text, err := ExtractReplyText(res.OK)
	if err != nil {
		observability.AgentRequestsTotal.WithLabelValues("error").Inc()
		return domain.AgentResult{ProcessingTime: elapsed}, err
	}

	observability.AgentRequestsTotal.WithLabelValues("ok").Inc()
	return domain.AgentResult{
		ReplyText:      NormalizeReply(text),
		Usage:          res.OK.Usage,
		ToolsUsed:      res.OK.Tools.Used,
		ProcessingTime: elapsed,
		Raw:            res.Raw,
	}, nil
}
