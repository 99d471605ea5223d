package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/adapter/kv/rediskv"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

func timeMustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

type recordingSink struct {
	events []monitoring.Event
}

func (r *recordingSink) Record(_ domain.Context, ev monitoring.Event) {
	r.events = append(r.events, ev)
}

func okEnvelope(text string) string {
	resp := map[string]any{
		"success": true,
		"data": map[string]any{
			"messages": []map[string]any{
				{"role": "assistant", "parts": []map[string]any{{"type": "text", "text": text}}},
			},
			"usage": map[string]int{"inputTokens": 10, "outputTokens": 5, "totalTokens": 15},
			"tools": map[string][]string{"used": {"job_search"}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *recordingSink) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	profiles, err := NewProfileRegistry(DefaultProfiles()...)
	require.NoError(t, err)

	sink := &recordingSink{}
	g := NewGateway(NewClient(srv.URL, "sk-test-1234567890", 5*time.Second), profiles, NewBrandCache(rediskv.New(rdb)), sink)
	return g, sink
}

func invocation() domain.AgentInvocation {
	return domain.AgentInvocation{
		ConversationID: "c1",
		UserMessage:    "有什么岗位",
		History:        []domain.ContextMessage{{Role: domain.RoleUser, Content: "你好"}},
		Scenario:       domain.ScenarioCandidateConsultation,
		MessageID:      "m1",
	}
}

func TestInvokeSuccess(t *testing.T) {
	var captured Request
	g, sink := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-1234567890", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(okEnvelope("有前端和后端两个岗位，你看哪个合适～")))
	})
	g.now = func() time.Time { return timeMustParse(t, "2024-06-03T02:00:00Z") }

	res, err := g.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.Equal(t, "有前端和后端两个岗位，你看哪个合适～", res.ReplyText)
	assert.False(t, res.IsFallback)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.Equal(t, []string{"job_search"}, res.ToolsUsed)

	// The system prompt carries the substituted current time.
	assert.Contains(t, captured.SystemPrompt, "2024-06-03 10:00 星期一")
	assert.NotContains(t, captured.SystemPrompt, "{{CURRENT_TIME}}")
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)

	// ai_start then ai_end bracket the call.
	require.Len(t, sink.events, 2)
	assert.Equal(t, monitoring.EventAIStart, sink.events[0].Kind)
	assert.Equal(t, monitoring.EventAIEnd, sink.events[1].Kind)
}

func TestInvokeNormalizesListReply(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(okEnvelope("有这些时间：\n- 上午十点\n- 下午三点")))
	})
	res, err := g.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.Equal(t, "有这些时间，有上午十点、下午三点可以选～", res.ReplyText)
}

func TestInvokeFallback(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"messages":[],"fallbackInfo":{"reason":"model_overloaded","message":"稍等哈"}}}`))
	})
	res, err := g.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.True(t, res.IsFallback)
	assert.Equal(t, "model_overloaded", res.FallbackReason)
	assert.Equal(t, "稍等哈", res.ReplyText)
}

func TestInvokeAuthError(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := g.Invoke(context.Background(), invocation())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAgentAuth)

	var inv *domain.AgentInvocationError
	require.ErrorAs(t, err, &inv)
	assert.False(t, inv.Retryable)
	assert.Equal(t, "sk-t****7890", inv.MaskedAPIKey)
}

func TestInvokeRateLimited(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := g.Invoke(context.Background(), invocation())
	assert.ErrorIs(t, err, domain.ErrAgentRateLimited)
}

func TestInvokeEnvelopeError(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"CONTEXT_MISSING","message":"no context"}}`))
	})
	_, err := g.Invoke(context.Background(), invocation())
	assert.ErrorIs(t, err, domain.ErrAgentContextMissing)
}

func TestInvokeUnknownScenario(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(okEnvelope("hi")))
	})
	in := invocation()
	in.Scenario = "UNKNOWN"
	_, err := g.Invoke(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrAgentConfig)
}

func TestInvokeMergesBrandContext(t *testing.T) {
	var captured Request
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set("wecom:config:brand", `{"company":"好样的科技","_internal":"x"}`))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(okEnvelope("好的")))
	}))
	t.Cleanup(srv.Close)

	profiles, err := NewProfileRegistry(DefaultProfiles()...)
	require.NoError(t, err)
	g := NewGateway(NewClient(srv.URL, "", time.Second), profiles, NewBrandCache(rediskv.New(rdb)), monitoring.NopRecorder{})

	_, err = g.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.Equal(t, "好样的科技", captured.Context["company"])
	assert.Equal(t, "wecom", captured.Context["channel"])
	assert.NotContains(t, captured.Context, "_internal")
}
