package httpserver

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/hireflow/wecom-relay/internal/adapter/wecom"
	"github.com/hireflow/wecom-relay/internal/pipeline"
)

const maxWebhookBody = 1 << 20

// Server bundles the HTTP handlers around the ingress pipeline.
type Server struct {
	Ingress *pipeline.Ingress
}

// NewServer builds the handler set.
func NewServer(ingress *pipeline.Ingress) *Server {
	return &Server{Ingress: ingress}
}

// HandleWebhook accepts both webhook shapes, normalizes, and runs ingress.
// The response is always 200: the platform retries aggressively on non-200
// and retried deliveries only add dedup load.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		LoggerFrom(r).Warn("webhook body read failed", slog.Any("error", err))
		writeWebhook(w, false, "Failed to read request body")
		return
	}

	rec, err := wecom.Normalize(body)
	if err != nil {
		LoggerFrom(r).Warn("webhook normalize failed", slog.Any("error", err))
		writeWebhook(w, false, "Unrecognized webhook payload")
		return
	}

	msg := s.Ingress.Handle(r.Context(), rec)
	writeWebhook(w, true, msg)
}

// HandleHealthz is the liveness probe.
func (s *Server) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
