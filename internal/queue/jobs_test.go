package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivativePayload(t *testing.T) {
	p := DerivativePayload{PhotoID: "p1", SkipDisplay: true}
	assert.Equal(t, "derivatives:p1:false:false:true", p.TaskID())
	assert.NotEqual(t, p.TaskID(), DerivativePayload{PhotoID: "p1"}.TaskID())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"photo_id":"p1","skip_display":true}`, string(data))
}

// fakeBroker keeps task ids the way Redis does: an id stays taken until its
// task is deleted, whatever state the task is in.
type fakeBroker struct {
	tasks    map[string]asynq.TaskState
	enqueued int
	deleted  []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{tasks: make(map[string]asynq.TaskState)}
}

func (b *fakeBroker) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if id != "" {
		if _, taken := b.tasks[id]; taken {
			return nil, asynq.ErrTaskIDConflict
		}
		b.tasks[id] = asynq.TaskStatePending
	}
	b.enqueued++
	return &asynq.TaskInfo{ID: id, Type: task.Type(), State: asynq.TaskStatePending}, nil
}

func (b *fakeBroker) GetTaskInfo(_, id string) (*asynq.TaskInfo, error) {
	state, ok := b.tasks[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: id, State: state}, nil
}

func (b *fakeBroker) DeleteTask(_, id string) error {
	if _, ok := b.tasks[id]; !ok {
		return asynq.ErrTaskNotFound
	}
	delete(b.tasks, id)
	b.deleted = append(b.deleted, id)
	return nil
}

func TestEnqueueDerivativesCoalescesLiveTasks(t *testing.T) {
	b := newFakeBroker()
	e := NewAsynqEnqueuer(b, b, 3)
	p := DerivativePayload{PhotoID: "p1"}

	require.NoError(t, e.EnqueueDerivatives(context.Background(), p))
	for _, state := range []asynq.TaskState{asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateRetry} {
		b.tasks[p.TaskID()] = state
		require.NoError(t, e.EnqueueDerivatives(context.Background(), p), state.String())
	}
	assert.Equal(t, 1, b.enqueued)
	assert.Empty(t, b.deleted)
}

func TestEnqueueDerivativesRequeuesFinishedTasks(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStateArchived, asynq.TaskStateCompleted} {
		t.Run(state.String(), func(t *testing.T) {
			b := newFakeBroker()
			e := NewAsynqEnqueuer(b, b, 3)
			p := DerivativePayload{PhotoID: "p1", SkipMetadata: true}

			require.NoError(t, e.EnqueueDerivatives(context.Background(), p))
			b.tasks[p.TaskID()] = state

			require.NoError(t, e.EnqueueDerivatives(context.Background(), p))
			assert.Equal(t, 2, b.enqueued)
			assert.Equal(t, []string{p.TaskID()}, b.deleted)
			assert.Equal(t, asynq.TaskStatePending, b.tasks[p.TaskID()])
		})
	}
}

func TestEnqueueDerivativesWithoutInspectorCoalesces(t *testing.T) {
	b := newFakeBroker()
	e := NewAsynqEnqueuer(b, nil, 3)
	p := DerivativePayload{PhotoID: "p1"}

	require.NoError(t, e.EnqueueDerivatives(context.Background(), p))
	b.tasks[p.TaskID()] = asynq.TaskStateArchived
	require.NoError(t, e.EnqueueDerivatives(context.Background(), p))
	assert.Equal(t, 1, b.enqueued)
}

type failingInspector struct{ *fakeBroker }

func (failingInspector) GetTaskInfo(string, string) (*asynq.TaskInfo, error) {
	return nil, errors.New("redis down")
}

func TestEnqueueDerivativesReportsInspectorFailure(t *testing.T) {
	b := newFakeBroker()
	e := NewAsynqEnqueuer(b, failingInspector{b}, 3)
	p := DerivativePayload{PhotoID: "p1"}
	b.tasks[p.TaskID()] = asynq.TaskStateArchived

	err := e.EnqueueDerivatives(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}
