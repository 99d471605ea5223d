// Package aggregator coalesces bursts of messages per conversation.
//
// All state lives in the KV store and the job queue; nothing durable is held
// in process memory, so any worker may process any chat and a restart loses
// nothing. The queue's job-id uniqueness is the coordination primitive:
// the primary job id for a conversation is its chat id, and enqueueing with
// that id replaces a waiting/delayed job (restarting the merge window).
// While the primary job is active, new arrivals get a derived id so they run
// after the active job completes.
package aggregator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hireflow/wecom-relay/internal/adapter/queue/asynqq"
	"github.com/hireflow/wecom-relay/internal/config"
	"github.com/hireflow/wecom-relay/internal/domain"
)

const (
	pendingPrefix     = "wecom:message:pending:"
	defaultPendingTTL = 5 * time.Minute
	jobMaxRetry       = 3
)

// Aggregator implements the per-conversation coalescing state machine.
type Aggregator struct {
	kv         domain.KV
	queue      domain.Queue
	settings   *config.SettingsStore
	pendingTTL time.Duration

	mu      sync.Mutex
	entropy *rand.Rand
}

// New builds an Aggregator. pendingTTL bounds how long an unprocessed buffer
// survives; zero or negative selects the default.
func New(kv domain.KV, queue domain.Queue, settings *config.SettingsStore, pendingTTL time.Duration) *Aggregator {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	return &Aggregator{
		kv:         kv,
		queue:      queue,
		settings:   settings,
		pendingTTL: pendingTTL,
		entropy:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // batch ids need uniqueness, not secrecy
	}
}

func pendingKey(chatID string) string { return pendingPrefix + chatID }

// Add appends the record to the conversation buffer and (re)schedules the
// processing job. The list append is the durability point: if the enqueue
// fails, the next inbound on the same chat re-attempts it.
func (a *Aggregator) Add(ctx domain.Context, rec domain.InboundRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=aggregator.Add: %w", err)
	}
	key := pendingKey(rec.ChatID)
	if err := a.kv.ListAppend(ctx, key, string(b)); err != nil {
		return err
	}
	if err := a.kv.Expire(ctx, key, a.pendingTTL); err != nil {
		slog.Warn("pending ttl refresh failed", slog.String("chat_id", rec.ChatID), slog.Any("error", err))
	}

	n, err := a.kv.ListLen(ctx, key)
	if err != nil {
		return err
	}

	s := a.settings.Current()
	delay := s.MergeWindow()
	if n >= int64(s.MaxMergedMessages) {
		delay = 0
	}

	jobID := rec.ChatID
	state, err := a.queue.JobState(ctx, rec.ChatID)
	if err != nil {
		return err
	}
	if state == domain.JobStateActive {
		// The running job may miss this record; chain a follow-up that
		// starts once it finishes. The delay is the same as for the primary
		// id, so a mid-processing arrival keeps its coalescing window.
		jobID = fmt.Sprintf("%s:pending:%d", rec.ChatID, time.Now().UnixMilli())
	}

	err = a.enqueue(ctx, jobID, rec.ChatID, delay)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race with the job going active (or another producer);
		// retry once under a fresh derived id.
		jobID = fmt.Sprintf("%s:pending:%d", rec.ChatID, time.Now().UnixMilli())
		err = a.enqueue(ctx, jobID, rec.ChatID, delay)
	}
	if err != nil {
		return err
	}

	slog.Debug("message buffered",
		slog.String("chat_id", rec.ChatID),
		slog.String("message_id", rec.MessageID),
		slog.Int64("pending", n),
		slog.Duration("delay", delay),
	)
	return nil
}

// Drain atomically takes the whole conversation buffer. The range and the
// delete are two round trips; a record appended between them stays in the
// list and is picked up by the follow-up job or the next ingress, so records
// are never lost (they may only be processed in a later, smaller batch).
func (a *Aggregator) Drain(ctx domain.Context, chatID string) ([]domain.InboundRecord, string, error) {
	key := pendingKey(chatID)
	raw, err := a.kv.ListRange(ctx, key, 0, -1)
	if err != nil {
		return nil, "", err
	}
	if len(raw) == 0 {
		return nil, "", nil
	}
	if err := a.kv.ListTrim(ctx, key, int64(len(raw)), -1); err != nil {
		return nil, "", err
	}

	out := make([]domain.InboundRecord, 0, len(raw))
	for _, r := range raw {
		var rec domain.InboundRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			slog.Error("corrupt pending record dropped", slog.String("chat_id", chatID), slog.Any("error", err))
			continue
		}
		out = append(out, rec)
	}
	return out, a.newBatchID(), nil
}

// RequeueIfPending schedules a zero-delay follow-up job when records arrived
// during processing. Called by the worker after every batch.
func (a *Aggregator) RequeueIfPending(ctx domain.Context, chatID string) error {
	n, err := a.kv.ListLen(ctx, pendingKey(chatID))
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	jobID := fmt.Sprintf("%s:retry:%d", chatID, time.Now().UnixMilli())
	return a.enqueue(ctx, jobID, chatID, 0)
}

func (a *Aggregator) enqueue(ctx domain.Context, jobID, chatID string, delay time.Duration) error {
	return a.queue.Enqueue(ctx, asynqq.TaskProcessChat, domain.EncodeChatJob(chatID), domain.EnqueueOpts{
		JobID:    jobID,
		Delay:    delay,
		MaxRetry: jobMaxRetry,
	})
}

func (a *Aggregator) newBatchID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), a.entropy).String()
}
