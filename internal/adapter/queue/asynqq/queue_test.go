package asynqq

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/hireflow/wecom-relay/internal/domain"
)

func TestMapState(t *testing.T) {
	cases := []struct {
		in   asynq.TaskState
		want domain.JobState
	}{
		{asynq.TaskStatePending, domain.JobStateWaiting},
		{asynq.TaskStateScheduled, domain.JobStateDelayed},
		{asynq.TaskStateRetry, domain.JobStateDelayed},
		{asynq.TaskStateActive, domain.JobStateActive},
		{asynq.TaskStateCompleted, domain.JobStateCompleted},
		{asynq.TaskStateArchived, domain.JobStateFailed},
		{asynq.TaskStateAggregating, domain.JobStateAbsent},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, mapState(c.in), "state %v", c.in)
	}
}

func TestJobStatePendingPredicate(t *testing.T) {
	assert.True(t, domain.JobStateWaiting.Pending())
	assert.True(t, domain.JobStateDelayed.Pending())
	assert.False(t, domain.JobStateActive.Pending())
	assert.False(t, domain.JobStateAbsent.Pending())
}

func TestNewRejectsBadURI(t *testing.T) {
	_, err := New("not-a-redis-uri")
	assert.Error(t, err)
}
