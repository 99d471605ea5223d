package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	WebhookMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_messages_total",
			Help: "Inbound webhook messages by verdict",
		},
		[]string{"verdict"},
	)

	AgentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_requests_total",
			Help: "Agent invocations by outcome (ok, fallback, error)",
		},
		[]string{"outcome"},
	)
	AgentRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_request_duration_seconds",
			Help:    "Agent invocation duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	DeliverySegmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_segments_total",
			Help: "Outbound reply segments by result",
		},
		[]string{"result"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	MonitoringEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_events_dropped_total",
			Help: "Monitoring events dropped because the sink buffer was full",
		},
	)

	BatchSizeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_batch_size",
			Help:    "Number of coalesced messages per processed batch",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		},
	)
)

var registered = false

// InitMetrics registers all collectors with the default registry. Safe to
// call once per process.
func InitMetrics() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebhookMessagesTotal,
		AgentRequestsTotal,
		AgentRequestDuration,
		DeliverySegmentsTotal,
		JobsEnqueuedTotal,
		JobsProcessing,
		JobsCompletedTotal,
		JobsFailedTotal,
		MonitoringEventsDropped,
		BatchSizeHistogram,
	)
}

// HTTPMetricsMiddleware records request counts and latency per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
