package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Settings are the runtime-mutable tunables. Operators update them through
// the system-config store; changes propagate to every process via a
// broadcast channel so they take effect without restarts.
type Settings struct {
	MergeWindowMS          int `json:"merge_window_ms"`
	MaxMergedMessages      int `json:"max_merged_messages"`
	TypingDelayPerCharMS   int `json:"typing_delay_per_char_ms"`
	ParagraphGapMS         int `json:"paragraph_gap_ms"`
	TypingSpeedCharsPerSec int `json:"typing_speed_chars_per_sec"`
	TypingMinDelayMS       int `json:"typing_min_delay_ms"`
	TypingMaxDelayMS       int `json:"typing_max_delay_ms"`
	TypingRandomVariation  int `json:"typing_random_variation"`
	WorkerConcurrency      int `json:"worker_concurrency"`
}

// DefaultSettings are used until the store has been written at least once.
func DefaultSettings() Settings {
	return Settings{
		MergeWindowMS:          2000,
		MaxMergedMessages:      5,
		TypingDelayPerCharMS:   50,
		ParagraphGapMS:         800,
		TypingSpeedCharsPerSec: 20,
		TypingMinDelayMS:       600,
		TypingMaxDelayMS:       5000,
		TypingRandomVariation:  200,
		WorkerConcurrency:      5,
	}
}

// MergeWindow returns the coalescing delay as a duration.
func (s Settings) MergeWindow() time.Duration {
	return time.Duration(s.MergeWindowMS) * time.Millisecond
}

const (
	settingsKey     = "wecom:config:settings"
	settingsChannel = "wecom:config:changed"
)

// SettingsStore holds the current Settings and keeps them fresh from Redis.
// Reads are lock-free; Current is safe on the hot path.
type SettingsStore struct {
	rdb     *redis.Client
	current atomic.Pointer[Settings]

	mu        sync.Mutex
	listeners []func(Settings)
}

// NewSettingsStore loads the persisted settings (falling back to defaults)
// and returns the store. Call Watch to subscribe to change broadcasts.
func NewSettingsStore(ctx context.Context, rdb *redis.Client) *SettingsStore {
	st := &SettingsStore{rdb: rdb}
	s := DefaultSettings()
	st.current.Store(&s)
	if err := st.reload(ctx); err != nil {
		slog.Warn("settings load failed, using defaults", slog.Any("error", err))
	}
	return st
}

// Current returns the active settings snapshot.
func (st *SettingsStore) Current() Settings { return *st.current.Load() }

// OnChange registers a callback invoked after every settings swap.
func (st *SettingsStore) OnChange(fn func(Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.listeners = append(st.listeners, fn)
}

// Update persists new settings and broadcasts the change to all processes.
func (st *SettingsStore) Update(ctx context.Context, s Settings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("op=config.Update: %w", err)
	}
	if err := st.rdb.Set(ctx, settingsKey, b, 0).Err(); err != nil {
		return fmt.Errorf("op=config.Update: %w", err)
	}
	if err := st.rdb.Publish(ctx, settingsChannel, "updated").Err(); err != nil {
		return fmt.Errorf("op=config.Update publish: %w", err)
	}
	st.swap(s)
	return nil
}

// Watch blocks on the broadcast channel and reloads on every message until
// ctx is cancelled. Run it in its own goroutine.
func (st *SettingsStore) Watch(ctx context.Context) {
	sub := st.rdb.Subscribe(ctx, settingsChannel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := st.reload(ctx); err != nil {
				slog.Warn("settings reload failed", slog.Any("error", err))
			}
		}
	}
}

func (st *SettingsStore) reload(ctx context.Context) error {
	b, err := st.rdb.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("op=config.reload: %w", err)
	}
	s := DefaultSettings()
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("op=config.reload: %w", err)
	}
	st.swap(s)
	return nil
}

func (st *SettingsStore) swap(s Settings) {
	st.current.Store(&s)
	st.mu.Lock()
	listeners := make([]func(Settings), len(st.listeners))
	copy(listeners, st.listeners)
	st.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	slog.Info("settings updated",
		slog.Int("merge_window_ms", s.MergeWindowMS),
		slog.Int("max_merged_messages", s.MaxMergedMessages),
		slog.Int("worker_concurrency", s.WorkerConcurrency),
	)
}
