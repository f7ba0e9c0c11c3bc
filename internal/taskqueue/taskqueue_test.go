package taskqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/domain"
)

type mockFailedTasks struct {
	due   []domain.FailedTask
	saved []*domain.FailedTask
}

func (m *mockFailedTasks) Create(ctx context.Context, f *domain.FailedTask) error { return nil }
func (m *mockFailedTasks) Get(ctx context.Context, id string) (*domain.FailedTask, error) {
	return nil, nil
}
func (m *mockFailedTasks) Save(ctx context.Context, f *domain.FailedTask) error {
	m.saved = append(m.saved, f)
	return nil
}
func (m *mockFailedTasks) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.FailedTask, error) {
	return m.due, nil
}

type mockBroker struct {
	enqueued []string
	failNext bool
}

func (m *mockBroker) Enqueue(ctx context.Context, task string, payload interface{}) error {
	if m.failNext {
		return assert.AnError
	}
	m.enqueued = append(m.enqueued, task)
	return nil
}

func TestBeatSweep_ReenqueuesDueTasksAndBumpsRetryCount(t *testing.T) {
	failed := &mockFailedTasks{due: []domain.FailedTask{
		{ID: "task-1", TaskName: TaskExecuteAction, RetryCount: 0},
	}}
	broker := &mockBroker{}
	b := NewBeat(failed, broker)

	b.sweep(context.Background())

	require.Len(t, broker.enqueued, 1)
	assert.Equal(t, TaskExecuteAction, broker.enqueued[0])
	require.Len(t, failed.saved, 1)
	assert.Equal(t, 1, failed.saved[0].RetryCount)
	require.NotNil(t, failed.saved[0].NextRetryAt)
}

func TestBeatSweep_SkipsAlreadyResolvedTasks(t *testing.T) {
	resolvedAt := time.Now().UTC()
	failed := &mockFailedTasks{due: []domain.FailedTask{
		{ID: "task-1", TaskName: TaskExecuteAction, ResolvedAt: &resolvedAt},
	}}
	broker := &mockBroker{}
	b := NewBeat(failed, broker)

	b.sweep(context.Background())

	assert.Empty(t, broker.enqueued)
	assert.Empty(t, failed.saved)
}

func TestBeatSweep_DoesNotSaveWhenEnqueueFails(t *testing.T) {
	failed := &mockFailedTasks{due: []domain.FailedTask{
		{ID: "task-1", TaskName: TaskExecuteAction},
	}}
	broker := &mockBroker{failNext: true}
	b := NewBeat(failed, broker)

	b.sweep(context.Background())

	assert.Empty(t, failed.saved)
}

func TestEnvelope_RoundTripsPayload(t *testing.T) {
	env := Envelope{Task: TaskProcessSignal, Payload: []byte(`{"signal_id":"sig-1"}`), RetryCount: 2}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, env.Task, decoded.Task)
	assert.Equal(t, env.RetryCount, decoded.RetryCount)
	assert.JSONEq(t, `{"signal_id":"sig-1"}`, string(decoded.Payload))
}
