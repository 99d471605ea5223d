package aggregator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// Sweeper periodically scans for pending lists whose processing job was lost
// (worker crash between enqueue and drain, enqueue failure at ingress) and
// schedules an immediate job for each. Enqueueing under the primary id is a
// no-op replace when a job already exists, so sweeping a healthy chat is
// harmless.
type Sweeper struct {
	kv       domain.KV
	agg      *Aggregator
	interval time.Duration
}

// NewSweeper builds a Sweeper.
func NewSweeper(kv domain.KV, agg *Aggregator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{kv: kv, agg: agg, interval: interval}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx domain.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep runs a single pass over all pending lists.
func (s *Sweeper) Sweep(ctx domain.Context) error {
	var (
		cursor  uint64
		swept   int
		scanned int
	)
	for {
		next, keys, err := s.kv.Scan(ctx, cursor, pendingPrefix+"*", 100)
		if err != nil {
			return fmt.Errorf("op=aggregator.Sweep: %w", err)
		}
		for _, key := range keys {
			scanned++
			chatID := strings.TrimPrefix(key, pendingPrefix)
			if chatID == "" {
				continue
			}
			state, err := s.agg.queue.JobState(ctx, chatID)
			if err != nil {
				slog.Warn("sweep job state lookup failed", slog.String("chat_id", chatID), slog.Any("error", err))
				continue
			}
			if state == domain.JobStateAbsent || state == domain.JobStateFailed {
				if err := s.agg.enqueue(ctx, chatID, chatID, 0); err != nil {
					slog.Warn("sweep enqueue failed", slog.String("chat_id", chatID), slog.Any("error", err))
					continue
				}
				swept++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if swept > 0 {
		slog.Info("orphaned conversations rescheduled", slog.Int("swept", swept), slog.Int("scanned", scanned))
	}
	return nil
}
