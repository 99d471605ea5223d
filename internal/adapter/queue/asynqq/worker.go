package asynqq

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/domain"
)

// retryBase is the exponential backoff base between job retries.
const retryBase = 2 * time.Second

// HandlerFunc processes one job payload.
type HandlerFunc func(ctx domain.Context, payload []byte) error

// queueServer is the surface of *asynq.Server the Worker drives; narrowed so
// the concurrency-swap sequencing is testable.
type queueServer interface {
	Start(h asynq.Handler) error
	Stop()
	Shutdown()
}

// Worker runs registered handlers against the queue with a concurrency that
// operators can change at runtime. Changing it drains in-flight jobs
// gracefully before a replacement server with the new setting takes over.
type Worker struct {
	opt asynq.RedisConnOpt
	mux *asynq.ServeMux

	// newServer is swapped out in tests.
	newServer func(concurrency int) queueServer

	mu          sync.Mutex
	srv         queueServer
	concurrency int
	running     bool
}

// NewWorker builds a Worker from a Redis URI.
func NewWorker(redisURL string, concurrency int) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=worker.NewWorker: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	w := &Worker{opt: opt, mux: asynq.NewServeMux(), concurrency: concurrency}
	w.newServer = w.buildServer
	return w, nil
}

// Handle registers a handler for a task name. Must be called before Start.
func (w *Worker) Handle(task string, fn HandlerFunc) {
	w.mux.HandleFunc(task, func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		observability.JobsProcessing.WithLabelValues(t.Type()).Inc()
		defer observability.JobsProcessing.WithLabelValues(t.Type()).Dec()
		err := fn(ctx, t.Payload())
		if err != nil {
			observability.JobsFailedTotal.WithLabelValues(t.Type()).Inc()
			slog.Error("job failed",
				slog.String("task", t.Type()),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err),
			)
			return err
		}
		observability.JobsCompletedTotal.WithLabelValues(t.Type()).Inc()
		return nil
	})
}

// Start launches the server. Non-blocking.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	srv := w.newServer(w.concurrency)
	if err := srv.Start(w.mux); err != nil {
		return fmt.Errorf("op=worker.Start: %w", err)
	}
	w.srv = srv
	w.running = true
	slog.Info("queue worker started", slog.Int("concurrency", w.concurrency))
	return nil
}

// SetConcurrency swaps the server for one with n concurrent processors
// (clamped to 1–20). The old server drains its in-flight jobs completely
// before the replacement starts, so total concurrency never exceeds the
// larger of the two settings.
func (w *Worker) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	if n > 20 {
		n = 20
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if n == w.concurrency {
		return
	}
	w.concurrency = n
	if !w.running {
		return
	}
	w.srv.Stop()
	w.srv.Shutdown()
	srv := w.newServer(n)
	if err := srv.Start(w.mux); err != nil {
		slog.Error("worker restart failed, queue processing stopped", slog.Any("error", err))
		w.running = false
		return
	}
	w.srv = srv
	slog.Info("worker concurrency changed", slog.Int("concurrency", n))
}

// Shutdown drains in-flight jobs and stops the server.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.srv.Stop()
	w.srv.Shutdown()
	w.running = false
}

func (w *Worker) buildServer(concurrency int) queueServer {
	return asynq.NewServer(w.opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return retryBase * time.Duration(math.Pow(2, float64(n)))
		},
		Logger: slogAdapter{},
	})
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
