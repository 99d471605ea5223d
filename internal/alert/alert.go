// Package alert raises operator notifications. Delivery is best-effort:
// failures are logged and never propagated into the pipeline.
package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// TitleHumanIntervention is the card title for agent failures that need a
// human to take over the conversation.
const TitleHumanIntervention = "🆘 小蛋糕出错了，需人工介入"

// WebhookNotifier posts alert cards as JSON to a configured webhook.
type WebhookNotifier struct {
	url string
	hc  *http.Client
}

// NewWebhookNotifier builds a notifier; an empty url disables posting (the
// alert is still logged).
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, hc: &http.Client{Timeout: 5 * time.Second}}
}

type alertCard struct {
	Kind   domain.AlertKind  `json:"kind"`
	Level  domain.AlertLevel `json:"level"`
	Title  string            `json:"title"`
	Body   string            `json:"body,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Time   string            `json:"time"`
}

// Notify implements domain.Notifier.
func (n *WebhookNotifier) Notify(ctx domain.Context, a domain.Alert) {
	slog.Warn("alert raised",
		slog.String("kind", string(a.Kind)),
		slog.String("level", string(a.Level)),
		slog.String("title", a.Title),
		slog.String("body", a.Body),
	)
	if n.url == "" {
		return
	}
	card := alertCard{
		Kind: a.Kind, Level: a.Level, Title: a.Title, Body: a.Body, Fields: a.Fields,
		Time: time.Now().Format(time.RFC3339),
	}
	body, err := json.Marshal(card)
	if err != nil {
		slog.Error("alert marshal failed", slog.Any("error", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("alert request failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.hc.Do(req)
	if err != nil {
		slog.Error("alert post failed", slog.Any("error", err))
		return
	}
	_ = resp.Body.Close()
}

// NopNotifier discards alerts; used in tests.
type NopNotifier struct{}

// Notify implements domain.Notifier.
func (NopNotifier) Notify(domain.Context, domain.Alert) {}
