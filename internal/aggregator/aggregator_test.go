package aggregator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/adapter/kv/rediskv"
	"github.com/hireflow/wecom-relay/internal/config"
	"github.com/hireflow/wecom-relay/internal/domain"
)

type enqueued struct {
	task    string
	payload []byte
	opts    domain.EnqueueOpts
}

type fakeQueue struct {
	jobs      []enqueued
	states    map[string]domain.JobState
	conflicts map[string]bool
}

func (f *fakeQueue) Enqueue(_ domain.Context, task string, payload []byte, opts domain.EnqueueOpts) error {
	if f.conflicts[opts.JobID] {
		delete(f.conflicts, opts.JobID)
		return domain.ErrConflict
	}
	f.jobs = append(f.jobs, enqueued{task: task, payload: payload, opts: opts})
	return nil
}

func (f *fakeQueue) JobState(_ domain.Context, id string) (domain.JobState, error) {
	if s, ok := f.states[id]; ok {
		return s, nil
	}
	return domain.JobStateAbsent, nil
}

func newTestAggregator(t *testing.T) (*Aggregator, *fakeQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := &fakeQueue{states: map[string]domain.JobState{}, conflicts: map[string]bool{}}
	return New(rediskv.New(rdb), q, config.NewSettingsStore(context.Background(), rdb), 5*time.Minute), q, mr
}

func record(chatID, messageID string) domain.InboundRecord {
	return domain.InboundRecord{
		MessageID:   messageID,
		ChatID:      chatID,
		ContactID:   chatID,
		MessageType: domain.MessageTypeText,
		Payload:     domain.Payload{Type: domain.MessageTypeText, Text: &domain.TextPayload{Text: "hi"}},
	}
}

func TestAddSchedulesWithMergeWindow(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, "c1", job.opts.JobID)
	assert.Equal(t, 2*time.Second, job.opts.Delay)

	chatID, err := domain.DecodeChatJob(job.payload)
	require.NoError(t, err)
	assert.Equal(t, "c1", chatID)
}

func TestAddReplacesRestartsWindow(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	q.states["c1"] = domain.JobStateDelayed
	require.NoError(t, agg.Add(ctx, record("c1", "m2")))

	// Both enqueues use the primary id; the queue adapter replaces the
	// delayed job, restarting the window.
	require.Len(t, q.jobs, 2)
	assert.Equal(t, "c1", q.jobs[1].opts.JobID)
	assert.Equal(t, 2*time.Second, q.jobs[1].opts.Delay)
}

func TestAddImmediateWhenBufferFull(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		require.NoError(t, agg.Add(ctx, record("c1", id)))
		if i < 4 {
			assert.Equal(t, 2*time.Second, q.jobs[i].opts.Delay)
		}
	}
	// The fifth message hits max_merged_messages and fires immediately.
	assert.Equal(t, time.Duration(0), q.jobs[4].opts.Delay)
}

func TestAddDerivedIDWhileActive(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	q.states["c1"] = domain.JobStateActive
	require.NoError(t, agg.Add(ctx, record("c1", "m1")))

	// The follow-up keeps the merge window: arriving mid-processing does
	// not forfeit coalescing with the next burst.
	require.Len(t, q.jobs, 1)
	assert.True(t, strings.HasPrefix(q.jobs[0].opts.JobID, "c1:pending:"))
	assert.Equal(t, 2*time.Second, q.jobs[0].opts.Delay)
}

func TestAddRetriesOnceOnConflict(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	q.conflicts["c1"] = true
	require.NoError(t, agg.Add(ctx, record("c1", "m1")))

	require.Len(t, q.jobs, 1)
	assert.True(t, strings.HasPrefix(q.jobs[0].opts.JobID, "c1:pending:"))
	assert.Equal(t, 2*time.Second, q.jobs[0].opts.Delay)
}

func TestDrainTakesAllAndPreservesConcurrentAppends(t *testing.T) {
	agg, _, mr := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	require.NoError(t, agg.Add(ctx, record("c1", "m2")))

	msgs, batchID, err := agg.Drain(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].MessageID)
	assert.Equal(t, "m2", msgs[1].MessageID)
	assert.NotEmpty(t, batchID)

	// The buffer is empty afterwards.
	msgs, _, err = agg.Drain(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Records arriving after a drain are a fresh batch, untouched by the
	// previous trim.
	b, _ := json.Marshal(record("c1", "m3"))
	_, err = mr.Push("wecom:message:pending:c1", string(b))
	require.NoError(t, err)

	msgs, _, err = agg.Drain(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m3", msgs[0].MessageID)
}

func TestDrainSkipsCorruptRecords(t *testing.T) {
	agg, _, mr := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	_, err := mr.Push("wecom:message:pending:c1", "{broken")
	require.NoError(t, err)

	msgs, _, err := agg.Drain(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MessageID)
}

func TestRequeueIfPending(t *testing.T) {
	agg, q, _ := newTestAggregator(t)
	ctx := context.Background()

	// Nothing pending: no job.
	require.NoError(t, agg.RequeueIfPending(ctx, "c1"))
	assert.Empty(t, q.jobs)

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	q.jobs = nil

	require.NoError(t, agg.RequeueIfPending(ctx, "c1"))
	require.Len(t, q.jobs, 1)
	assert.True(t, strings.HasPrefix(q.jobs[0].opts.JobID, "c1:retry:"))
	assert.Equal(t, time.Duration(0), q.jobs[0].opts.Delay)
}

func TestPendingListHasTTL(t *testing.T) {
	agg, _, mr := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Add(ctx, record("c1", "m1")))
	ttl := mr.TTL("wecom:message:pending:c1")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPendingListUsesConfiguredTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := &fakeQueue{states: map[string]domain.JobState{}, conflicts: map[string]bool{}}
	agg := New(rediskv.New(rdb), q, config.NewSettingsStore(context.Background(), rdb), 90*time.Second)

	require.NoError(t, agg.Add(context.Background(), record("c1", "m1")))
	assert.Equal(t, 90*time.Second, mr.TTL("wecom:message:pending:c1"))
}
