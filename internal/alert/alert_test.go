package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/domain"
)

func TestNotifyPostsCard(t *testing.T) {
	var captured map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL)
	n.Notify(context.Background(), domain.Alert{
		Kind:   domain.AlertKindAgent,
		Level:  domain.AlertError,
		Title:  TitleHumanIntervention,
		Body:   "agent auth error",
		Fields: map[string]string{"chat_id": "c1", "api_key": "sk-t****7890"},
	})

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "agent", captured["kind"])
	assert.Equal(t, "error", captured["level"])
	assert.Equal(t, TitleHumanIntervention, captured["title"])
	assert.NotEmpty(t, captured["time"])
	fields := captured["fields"].(map[string]any)
	assert.Equal(t, "c1", fields["chat_id"])
}

func TestNotifyEmptyURLIsNoop(t *testing.T) {
	n := NewWebhookNotifier("")
	// Must not panic or block; the alert is only logged.
	n.Notify(context.Background(), domain.Alert{Kind: domain.AlertKindMessage, Level: domain.AlertWarning, Title: "t"})
}

func TestNotifyServerErrorSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL)
	n.Notify(context.Background(), domain.Alert{Kind: domain.AlertKindDelivery, Level: domain.AlertCritical, Title: "t"})
}
