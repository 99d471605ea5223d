// Command worker runs the queue consumer that processes coalesced
// conversation batches, plus the pending-list sweeper.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hireflow/wecom-relay/internal/adapter/kv/rediskv"
	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/adapter/queue/asynqq"
	"github.com/hireflow/wecom-relay/internal/adapter/sink/kafkasink"
	"github.com/hireflow/wecom-relay/internal/adapter/wecom"
	"github.com/hireflow/wecom-relay/internal/agent"
	"github.com/hireflow/wecom-relay/internal/aggregator"
	"github.com/hireflow/wecom-relay/internal/alert"
	"github.com/hireflow/wecom-relay/internal/config"
	"github.com/hireflow/wecom-relay/internal/dedup"
	"github.com/hireflow/wecom-relay/internal/delivery"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/history"
	"github.com/hireflow/wecom-relay/internal/monitoring"
	"github.com/hireflow/wecom-relay/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ropt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(ropt)
	defer func() { _ = rdb.Close() }()
	kv := rediskv.New(rdb)

	settings := config.NewSettingsStore(ctx, rdb)
	go settings.Watch(ctx)

	queue, err := asynqq.New(cfg.RedisURL)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	var recorder monitoring.Recorder = monitoring.LogRecorder{}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(cfg.KafkaBrokers, cfg.MonitoringTopic)
		if err != nil {
			slog.Error("monitoring sink connect failed, falling back to logs", slog.Any("error", err))
		} else {
			defer sink.Close()
			recorder = sink
		}
	}

	profiles, err := agent.NewProfileRegistry(agent.DefaultProfiles()...)
	if err != nil {
		slog.Error("agent profiles invalid", slog.Any("error", err))
		os.Exit(1)
	}
	gateway := agent.NewGateway(
		agent.NewClient(cfg.AgentBaseURL, cfg.AgentAPIKey, cfg.AgentTimeout),
		profiles,
		agent.NewBrandCache(kv),
		recorder,
	)

	sender := wecom.NewSender(cfg.SendEndpoint, cfg.SendTimeout)
	agg := aggregator.New(kv, queue, settings, cfg.PendingTTL)

	processor := &pipeline.Processor{
		Aggregator: agg,
		History:    history.New(kv, cfg.MaxHistoryPerChat, cfg.HistoryTTL),
		Dedup:      dedup.New(kv, cfg.DedupWindow),
		Gateway:    gateway,
		Pacer:      delivery.NewTypingPacer(sender, settings, recorder),
		Sender:     sender,
		Fallback:   agent.NewFallbackProvider(cfg.FallbackReply),
		Notifier:   alert.NewWebhookNotifier(cfg.AlertWebhookURL),
		Recorder:   recorder,
		Scenario:   domain.ScenarioCandidateConsultation,
	}

	worker, err := asynqq.NewWorker(cfg.RedisURL, settings.Current().WorkerConcurrency)
	if err != nil {
		slog.Error("worker setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	worker.Handle(asynqq.TaskProcessChat, func(ctx domain.Context, payload []byte) error {
		chatID, err := domain.DecodeChatJob(payload)
		if err != nil {
			// Malformed payload: retrying cannot help.
			slog.Error("chat job payload invalid", slog.Any("error", err))
			return nil
		}
		return processor.Process(ctx, chatID)
	})
	settings.OnChange(func(s config.Settings) {
		worker.SetConcurrency(s.WorkerConcurrency)
	})

	if err := worker.Start(); err != nil {
		slog.Error("worker start failed", slog.Any("error", err))
		os.Exit(1)
	}

	go aggregator.NewSweeper(kv, agg, cfg.SweepInterval).Run(ctx)

	// Metrics-only listener; the worker has no other HTTP surface.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("metrics listener failed", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	worker.Shutdown()
}
