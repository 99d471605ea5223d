package delivery

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/config"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

// TypingPacer implements domain.Pacer: it segments the reply and sends the
// segments with per-character typing delays. Pacing knobs are read from the
// settings store on every call so operators can hot-swap them.
type TypingPacer struct {
	sender   domain.Sender
	settings *config.SettingsStore
	recorder monitoring.Recorder

	// sleep is swapped out in tests.
	sleep func(domain.Context, time.Duration)

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTypingPacer wires a TypingPacer.
func NewTypingPacer(sender domain.Sender, settings *config.SettingsStore, rec monitoring.Recorder) *TypingPacer {
	return &TypingPacer{
		sender:   sender,
		settings: settings,
		recorder: rec,
		sleep:    sleepCtx,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not security
	}
}

func sleepCtx(ctx domain.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Deliver sends replyText as paced segments. Per-segment failures are
// logged and counted but do not abort the remaining segments.
func (p *TypingPacer) Deliver(ctx domain.Context, replyText string, dctx domain.DeliveryContext) (domain.DeliveryResult, error) {
	segments := Segment(replyText)
	start := time.Now()

	p.recorder.Record(ctx, monitoring.Event{
		Kind: monitoring.EventSendStart, MessageID: dctx.MessageID, ChatID: dctx.ChatID, Timestamp: monitoring.Now(),
	})
	defer func() {
		p.recorder.Record(ctx, monitoring.Event{
			Kind: monitoring.EventSendEnd, MessageID: dctx.MessageID, ChatID: dctx.ChatID, Timestamp: monitoring.Now(),
		})
	}()

	failed := 0
	for i, seg := range segments {
		// The first segment goes out immediately: the user already waited
		// through the Agent call.
		if i > 0 {
			p.sleep(ctx, p.delayFor(seg))
		}
		if err := p.sender.SendText(ctx, dctx, seg); err != nil {
			failed++
			observability.DeliverySegmentsTotal.WithLabelValues("failed").Inc()
			slog.Error("segment send failed",
				slog.String("chat_id", dctx.ChatID),
				slog.Int("segment", i),
				slog.Any("error", err))
			continue
		}
		observability.DeliverySegmentsTotal.WithLabelValues("sent").Inc()
	}

	return domain.DeliveryResult{
		Success:        failed == 0,
		SegmentCount:   len(segments),
		FailedSegments: failed,
		TotalTime:      time.Since(start),
	}, nil
}

// delayFor derives the pre-send pause from the typing rate. The rate comes
// from typing_speed_chars_per_sec when set; typing_delay_per_char_ms is the
// fallback for configs that only carry the per-char form. The defaults
// coincide (20 chars/s ≡ 50 ms/char).
func (p *TypingPacer) delayFor(segment string) time.Duration {
	s := p.settings.Current()
	perCharMS := s.TypingDelayPerCharMS
	if s.TypingSpeedCharsPerSec > 0 {
		perCharMS = 1000 / s.TypingSpeedCharsPerSec
	}
	ms := len([]rune(segment))*perCharMS + s.ParagraphGapMS
	if s.TypingRandomVariation > 0 {
		p.mu.Lock()
		ms += p.rng.Intn(2*s.TypingRandomVariation+1) - s.TypingRandomVariation
		p.mu.Unlock()
	}
	if ms < s.TypingMinDelayMS {
		ms = s.TypingMinDelayMS
	}
	if ms > s.TypingMaxDelayMS {
		ms = s.TypingMaxDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}
