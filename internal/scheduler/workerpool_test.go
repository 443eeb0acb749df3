package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	id       string
	priority int
	err      error
	ran      chan struct{}
}

func (t *fakeTask) Execute(ctx context.Context) (interface{}, error) {
	close(t.ran)
	return t.id, t.err
}
func (t *fakeTask) ID() string     { return t.id }
func (t *fakeTask) Priority() int  { return t.priority }

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 2, QueueSize: 4, ShutdownTimeout: time.Second})
	pool.Start()
	defer pool.Shutdown()

	task := &fakeTask{id: "job-1", ran: make(chan struct{})}
	require.NoError(t, pool.Submit(context.Background(), task))

	select {
	case <-task.ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	result := <-pool.Results()
	assert.Equal(t, "job-1", result.TaskID)
	assert.NoError(t, result.Error)
}

func TestWorkerPool_PropagatesTaskError(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1, ShutdownTimeout: time.Second})
	pool.Start()
	defer pool.Shutdown()

	task := &fakeTask{id: "job-2", err: errors.New("fetch failed"), ran: make(chan struct{})}
	require.NoError(t, pool.Submit(context.Background(), task))

	result := <-pool.Results()
	assert.Equal(t, "job-2", result.TaskID)
	assert.EqualError(t, result.Error, "fetch failed")
}

func TestWorkerPool_SubmitFailsWhenShutDown(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1, ShutdownTimeout: time.Second})
	pool.Start()
	require.NoError(t, pool.Shutdown())

	err := pool.Submit(context.Background(), &fakeTask{id: "job-3", ran: make(chan struct{})})
	assert.Error(t, err)
}
