package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check is one named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Readiness aggregates dependency probes for /readyz.
type Readiness struct {
	checks  []Check
	timeout time.Duration
}

// NewReadiness builds a Readiness with a per-probe timeout.
func NewReadiness(checks ...Check) *Readiness {
	return &Readiness{checks: checks, timeout: 2 * time.Second}
}

// Handler returns the /readyz handler: 200 with per-check status, or 503
// when any dependency is down.
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(r.checks))
		for _, c := range r.checks {
			ctx, cancel := context.WithTimeout(req.Context(), r.timeout)
			err := c.Probe(ctx)
			cancel()
			if err != nil {
				status = http.StatusServiceUnavailable
				results[c.Name] = err.Error()
				continue
			}
			results[c.Name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"checks": results})
	}
}
