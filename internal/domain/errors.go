package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels). Adapters wrap these with op= prefixes so that
// callers can classify with errors.Is without parsing strings.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrDuplicate       = errors.New("duplicate message")
	ErrTransient       = errors.New("transient backend error")

	ErrAgentAuth           = errors.New("agent auth error")
	ErrAgentRateLimited    = errors.New("agent rate limited")
	ErrAgentConfig         = errors.New("agent config error")
	ErrAgentContextMissing = errors.New("agent context missing")
	ErrAgentUnavailable    = errors.New("agent unavailable")

	ErrDelivery = errors.New("delivery failed")
)

// AgentInvocationError carries request diagnostics for alerting. The API key
// is masked before it is stored here.
type AgentInvocationError struct {
	Code      string
	Message   string
	Retryable bool
	// Diagnostics for the alert card.
	MaskedAPIKey   string
	RequestHeaders map[string]string
	RequestBody    string

	sentinel error
}

// NewAgentInvocationError builds an invocation error classified under the
// given sentinel (one of the ErrAgent* values).
func NewAgentInvocationError(sentinel error, code, message string, retryable bool) *AgentInvocationError {
	return &AgentInvocationError{Code: code, Message: message, Retryable: retryable, sentinel: sentinel}
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent invocation failed: code=%s retryable=%t: %s", e.Code, e.Retryable, e.Message)
}

func (e *AgentInvocationError) Unwrap() error {
	if e.sentinel != nil {
		return e.sentinel
	}
	return ErrAgentUnavailable
}

// IsAgentError reports whether err belongs to the agent taxonomy.
func IsAgentError(err error) bool {
	return errors.Is(err, ErrAgentAuth) ||
		errors.Is(err, ErrAgentRateLimited) ||
		errors.Is(err, ErrAgentConfig) ||
		errors.Is(err, ErrAgentContextMissing) ||
		errors.Is(err, ErrAgentUnavailable)
}
