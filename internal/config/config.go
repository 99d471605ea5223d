// Package config defines configuration parsing and the hot-swappable
// runtime settings store.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	// DBURL points at the small operator tables (paused contacts, group
	// blacklist). Empty disables the lookups (everything passes).
	DBURL string `env:"DB_URL"`

	// KafkaBrokers feed the monitoring sink; empty falls back to slog.
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	MonitoringTopic string   `env:"MONITORING_TOPIC" envDefault:"chat-monitoring-events"`

	AgentBaseURL string        `env:"AGENT_BASE_URL" envDefault:"http://localhost:3000"`
	AgentAPIKey  string        `env:"AGENT_API_KEY"`
	AgentTimeout time.Duration `env:"AGENT_TIMEOUT" envDefault:"60s"`

	SendEndpoint string        `env:"SEND_ENDPOINT" envDefault:"https://hub.juzibot.com/api/v2/message/send"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`

	AlertWebhookURL string `env:"ALERT_WEBHOOK_URL"`

	DedupWindow       time.Duration `env:"DEDUP_WINDOW" envDefault:"5m"`
	PendingTTL        time.Duration `env:"PENDING_TTL" envDefault:"5m"`
	HistoryTTL        time.Duration `env:"HISTORY_TTL" envDefault:"2h"`
	MaxHistoryPerChat int           `env:"MAX_HISTORY_PER_CHAT" envDefault:"20"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`

	// FallbackReply overrides the default fallback pool when set.
	FallbackReply string `env:"FALLBACK_REPLY"`

	// ListCacheTTL memoizes the paused-contacts / blacklist lookups.
	ListCacheTTL time.Duration `env:"LIST_CACHE_TTL" envDefault:"5s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"wecom-relay"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"600"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	MetricsPort int `env:"METRICS_PORT" envDefault:"9090"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
