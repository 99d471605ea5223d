// Package agent invokes the external LLM Agent service and normalizes its
// replies for delivery.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// Request is the Agent HTTP API request body.
type Request struct {
	ConversationID  string          `json:"conversationId"`
	UserMessage     string          `json:"userMessage"`
	Messages        []SimpleMessage `json:"messages"`
	Model           string          `json:"model,omitempty"`
	SystemPrompt    string          `json:"systemPrompt,omitempty"`
	PromptType      string          `json:"promptType,omitempty"`
	AllowedTools    []string        `json:"allowedTools,omitempty"`
	Context         map[string]any  `json:"context"`
	ToolContext     map[string]any  `json:"toolContext,omitempty"`
	ContextStrategy string          `json:"contextStrategy,omitempty"`
	Prune           bool            `json:"prune,omitempty"`
	PruneOptions    map[string]any  `json:"pruneOptions,omitempty"`
}

// SimpleMessage is one prior turn.
type SimpleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagePart is one part of a structured agent message.
type MessagePart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	State    string          `json:"state,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// Message is one structured agent message.
type Message struct {
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// ChatResponse is the Agent's successful payload.
type ChatResponse struct {
	Messages []Message         `json:"messages"`
	Usage    domain.TokenUsage `json:"usage"`
	Tools    struct {
		Used    []string `json:"used"`
		Skipped []string `json:"skipped"`
	} `json:"tools"`
	FallbackInfo *FallbackInfo `json:"fallbackInfo,omitempty"`
}

// FallbackInfo signals degraded mode.
type FallbackInfo struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// apiResponse is the Agent's envelope.
type apiResponse struct {
	Success bool          `json:"success"`
	Data    *ChatResponse `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// Result discriminates the three client outcomes; exactly one field is set.
type Result struct {
	OK       *ChatResponse
	Fallback *FallbackInfo
	Raw      json.RawMessage
}

// Client posts chat requests to the Agent service. Timeout and HTTP error
// classification are its concern; retries beyond a single attempt belong to
// the job queue.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewClient builds a Client with the configured deadline and an otel-
// instrumented transport.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Chat performs one Agent call. Errors are classified into the domain agent
// taxonomy and carry masked request diagnostics for alerting.
func (c *Client) Chat(ctx domain.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("op=agent.Chat marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("op=agent.Chat: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return Result{}, c.invocationError(domain.ErrAgentUnavailable, "REQUEST_FAILED", err.Error(), true, httpReq, body)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, c.invocationError(domain.ErrAgentUnavailable, "READ_FAILED", err.Error(), true, httpReq, body)
	}

	if resp.StatusCode != http.StatusOK {
		sentinel, code, retryable := classifyStatus(resp.StatusCode)
		msg := fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(raw, 500))
		return Result{}, c.invocationError(sentinel, code, msg, retryable, httpReq, body)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, c.invocationError(domain.ErrAgentUnavailable, "BAD_RESPONSE", err.Error(), true, httpReq, body)
	}
	if !env.Success || env.Data == nil {
		code, msg := "AGENT_ERROR", "agent returned success=false"
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		sentinel, retryable := classifyCode(code)
		return Result{}, c.invocationError(sentinel, code, msg, retryable, httpReq, body)
	}
	if env.Data.FallbackInfo != nil {
		return Result{Fallback: env.Data.FallbackInfo, Raw: raw}, nil
	}
	return Result{OK: env.Data, Raw: raw}, nil
}

func classifyStatus(status int) (error, string, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrAgentAuth, "AUTH", false
	case status == http.StatusTooManyRequests:
		return domain.ErrAgentRateLimited, "RATE_LIMITED", true
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.ErrAgentConfig, "BAD_REQUEST", false
	case status >= 500:
		return domain.ErrAgentUnavailable, "UPSTREAM", true
	default:
		return domain.ErrAgentUnavailable, fmt.Sprintf("HTTP_%d", status), false
	}
}

func classifyCode(code string) (error, bool) {
	switch strings.ToUpper(code) {
	case "AUTH", "UNAUTHORIZED", "FORBIDDEN":
		return domain.ErrAgentAuth, false
	case "RATE_LIMITED", "TOO_MANY_REQUESTS":
		return domain.ErrAgentRateLimited, true
	case "CONFIG", "INVALID_CONFIG", "BAD_REQUEST":
		return domain.ErrAgentConfig, false
	case "CONTEXT_MISSING":
		return domain.ErrAgentContextMissing, true
	default:
		return domain.ErrAgentUnavailable, true
	}
}

func (c *Client) invocationError(sentinel error, code, msg string, retryable bool, req *http.Request, body []byte) error {
	e := domain.NewAgentInvocationError(sentinel, code, msg, retryable)
	e.MaskedAPIKey = maskKey(c.apiKey)
	e.RequestHeaders = map[string]string{"Content-Type": req.Header.Get("Content-Type")}
	e.RequestBody = snippet(body, 2000)
	return e
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
