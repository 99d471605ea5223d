// Command server starts the webhook ingress HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/hireflow/wecom-relay/internal/adapter/httpserver"
	"github.com/hireflow/wecom-relay/internal/adapter/kv/rediskv"
	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/adapter/queue/asynqq"
	"github.com/hireflow/wecom-relay/internal/adapter/repo/postgres"
	"github.com/hireflow/wecom-relay/internal/adapter/sink/kafkasink"
	"github.com/hireflow/wecom-relay/internal/aggregator"
	"github.com/hireflow/wecom-relay/internal/app"
	"github.com/hireflow/wecom-relay/internal/config"
	"github.com/hireflow/wecom-relay/internal/dedup"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/filter"
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

	var lists filter.Lists
	if cfg.DBURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		lists = filter.NewCachedLists(postgres.NewListsRepo(pool), cfg.ListCacheTTL)
	}

	ingress := &pipeline.Ingress{
		Filter:     filter.New(lists),
		History:    history.New(kv, cfg.MaxHistoryPerChat, cfg.HistoryTTL),
		Dedup:      dedup.New(kv, cfg.DedupWindow),
		Aggregator: aggregator.New(kv, queue, settings, cfg.PendingTTL),
		Recorder:   recorder,
		Scenario:   domain.ScenarioCandidateConsultation,
	}

	ready := app.NewReadiness(app.Check{
		Name:  "redis",
		Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	handler := app.BuildRouter(cfg, httpserver.NewServer(ingress), ready)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
