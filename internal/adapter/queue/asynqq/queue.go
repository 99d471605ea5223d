// Package asynqq implements the domain.Queue port on asynq (Redis-backed
// delayed jobs). Job-id uniqueness is the coordination primitive for
// per-chat mutual exclusion: enqueueing with an id held by a waiting or
// delayed job replaces that job and restarts its delay.
package asynqq

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/domain"
)

// TaskProcessChat is the task name for aggregator jobs.
const TaskProcessChat = "chat:process"

const queueName = "default"

// Queue implements domain.Queue.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// New builds a Queue from a Redis URI.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.New: %w", err)
	}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

// Close releases the underlying connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// Enqueue schedules a task. When opts.JobID names an existing waiting or
// delayed job, that job is removed first so the new delay takes effect.
// Callers observing an active job must pick a derived id themselves.
func (q *Queue) Enqueue(ctx domain.Context, task string, payload []byte, opts domain.EnqueueOpts) error {
	if opts.JobID != "" {
		state, err := q.JobState(ctx, opts.JobID)
		if err != nil {
			return err
		}
		if state.Pending() {
			if err := q.inspector.DeleteTask(queueName, opts.JobID); err != nil &&
				!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
				return fmt.Errorf("op=queue.Enqueue delete: %w: %v", domain.ErrTransient, err)
			}
		}
	}

	aopts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(opts.MaxRetry),
	}
	if opts.JobID != "" {
		aopts = append(aopts, asynq.TaskID(opts.JobID))
	}
	if opts.Delay > 0 {
		aopts = append(aopts, asynq.ProcessIn(opts.Delay))
	}

	_, err := q.client.EnqueueContext(ctx, asynq.NewTask(task, payload), aopts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Raced with another producer or the job went active between the
			// inspection and the enqueue; the caller retries with a fresh id.
			return fmt.Errorf("op=queue.Enqueue: %w: job id %s", domain.ErrConflict, opts.JobID)
		}
		return fmt.Errorf("op=queue.Enqueue: %w: %v", domain.ErrTransient, err)
	}
	observability.JobsEnqueuedTotal.WithLabelValues(task).Inc()
	slog.Debug("job enqueued",
		slog.String("task", task),
		slog.String("job_id", opts.JobID),
		slog.Duration("delay", opts.Delay),
	)
	return nil
}

// JobState maps the asynq task state for id onto the domain lifecycle.
func (q *Queue) JobState(_ domain.Context, id string) (domain.JobState, error) {
	info, err := q.inspector.GetTaskInfo(queueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return domain.JobStateAbsent, nil
		}
		return domain.JobStateAbsent, fmt.Errorf("op=queue.JobState: %w: %v", domain.ErrTransient, err)
	}
	return mapState(info.State), nil
}

func mapState(s asynq.TaskState) domain.JobState {
	switch s {
	case asynq.TaskStatePending:
		return domain.JobStateWaiting
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return domain.JobStateDelayed
	case asynq.TaskStateActive:
		return domain.JobStateActive
	case asynq.TaskStateCompleted:
		return domain.JobStateCompleted
	case asynq.TaskStateArchived:
		return domain.JobStateFailed
	default:
		return domain.JobStateAbsent
	}
}
