package wecom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/domain"
)

func TestSendTextEnterprise(t *testing.T) {
	var captured map[string]any
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	s := NewSender(srv.URL, time.Second)
	err := s.SendText(context.Background(), domain.DeliveryContext{
		BotID:      "bot-1",
		ContactID:  "contact-1",
		Token:      "tok-1",
		APIVariant: domain.VariantEnterprise,
	}, "你好")
	require.NoError(t, err)

	assert.Equal(t, "tok-1", token)
	assert.Equal(t, "bot-1", captured["imBotId"])
	assert.Equal(t, "contact-1", captured["imContactId"])
	assert.NotContains(t, captured, "botWxid")
	assert.Equal(t, float64(7), captured["messageType"])
	payload := captured["payload"].(map[string]any)
	assert.Equal(t, "你好", payload["text"])
}

func TestSendTextGroupRoom(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	t.Cleanup(srv.Close)

	s := NewSender(srv.URL, time.Second)
	err := s.SendText(context.Background(), domain.DeliveryContext{
		BotID:      "bot-2",
		ContactID:  "contact-2",
		RoomID:     "room-2",
		APIVariant: domain.VariantGroup,
	}, "hi")
	require.NoError(t, err)

	assert.Equal(t, "bot-2", captured["botWxid"])
	assert.Equal(t, "room-2", captured["roomWxid"])
	assert.NotContains(t, captured, "contactId")
	assert.NotContains(t, captured, "imBotId")
}

func TestSendTextErrcodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid token"}`))
	}))
	t.Cleanup(srv.Close)

	s := NewSender(srv.URL, time.Second)
	err := s.SendText(context.Background(), domain.DeliveryContext{APIVariant: domain.VariantEnterprise}, "x")
	assert.ErrorIs(t, err, domain.ErrDelivery)
}

func TestSendTextHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	s := NewSender(srv.URL, time.Second)
	err := s.SendText(context.Background(), domain.DeliveryContext{}, "x")
	assert.ErrorIs(t, err, domain.ErrDelivery)
}
