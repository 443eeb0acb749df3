// Package scheduler runs the engine's background loops. WorkerPool is a
// generic fixed-size goroutine pool that here drives the Backfill Queue's
// N-worker dispatch.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"marketdata/pkg/log"
)

// Task is one unit of work a pool worker executes.
type Task interface {
	Execute(ctx context.Context) (interface{}, error)
	ID() string
	Priority() int
}

// Result is the outcome of one task execution.
type Result struct {
	TaskID string
	Data   interface{}
	Error  error
	Timing TaskTiming
}

// TaskTiming carries execution timing for a completed task.
type TaskTiming struct {
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	WorkerID      int
	QueueWaitTime time.Duration
}

// WorkerPool runs a fixed number of goroutines pulling tasks off a shared
// queue, used by the Scheduler to bound backfill concurrency.
type WorkerPool struct {
	workerCount int
	taskQueue   chan taskWrapper
	resultQueue chan Result
	workers     []*poolWorker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	tasksSubmitted   int64
	tasksCompleted   int64
	tasksInProgress  int64
	totalProcessTime int64

	queueSize       int
	shutdownTimeout time.Duration

	mu sync.RWMutex
}

type taskWrapper struct {
	Task        Task
	SubmittedAt time.Time
	Context     context.Context
}

type poolWorker struct {
	ID       int
	pool     *WorkerPool
	ctx      context.Context
	isActive int32
}

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	MaxWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers * 100
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workerCount:     config.MaxWorkers,
		taskQueue:       make(chan taskWrapper, config.QueueSize),
		resultQueue:     make(chan Result, config.QueueSize),
		workers:         make([]*poolWorker, config.MaxWorkers),
		ctx:             ctx,
		cancel:          cancel,
		queueSize:       config.QueueSize,
		shutdownTimeout: config.ShutdownTimeout,
	}

	for i := 0; i < config.MaxWorkers; i++ {
		pool.workers[i] = &poolWorker{ID: i, pool: pool, ctx: ctx}
	}

	log.Info("created backfill worker pool with %d workers, queue size %d", config.MaxWorkers, config.QueueSize)
	return pool
}

// Start launches all workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, w := range wp.workers {
		wp.wg.Add(1)
		go w.run()
	}
}

// Submit enqueues a task, failing fast if the queue is full or the pool is
// shutting down.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	if wp.ctx.Err() != nil {
		return fmt.Errorf("worker pool is shut down")
	}
	select {
	case wp.taskQueue <- taskWrapper{Task: task, SubmittedAt: time.Now(), Context: ctx}:
		atomic.AddInt64(&wp.tasksSubmitted, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shut down")
	default:
		return fmt.Errorf("task queue is full")
	}
}

// Results returns the channel of completed task outcomes.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// IsIdle reports whether nothing is queued or executing.
func (wp *WorkerPool) IsIdle() bool {
	return atomic.LoadInt64(&wp.tasksInProgress) == 0 && len(wp.taskQueue) == 0
}

// Shutdown stops accepting new work and waits (bounded by
// shutdownTimeout) for in-flight tasks to drain.
func (wp *WorkerPool) Shutdown() error {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(wp.shutdownTimeout):
		return fmt.Errorf("worker pool shutdown timed out after %v", wp.shutdownTimeout)
	}
}

// Metrics reports current pool occupancy, served through Engine.Metrics on
// the health HTTP surface's /metrics endpoint.
func (wp *WorkerPool) Metrics() WorkerPoolMetrics {
	return WorkerPoolMetrics{
		WorkerCount:     wp.workerCount,
		TasksSubmitted:  atomic.LoadInt64(&wp.tasksSubmitted),
		TasksCompleted:  atomic.LoadInt64(&wp.tasksCompleted),
		TasksInProgress: atomic.LoadInt64(&wp.tasksInProgress),
		TasksInQueue:    int64(len(wp.taskQueue)),
		QueueCapacity:   int64(wp.queueSize),
	}
}

type WorkerPoolMetrics struct {
	WorkerCount     int   `json:"worker_count"`
	TasksSubmitted  int64 `json:"tasks_submitted"`
	TasksCompleted  int64 `json:"tasks_completed"`
	TasksInProgress int64 `json:"tasks_in_progress"`
	TasksInQueue    int64 `json:"tasks_in_queue"`
	QueueCapacity   int64 `json:"queue_capacity"`
}

func (w *poolWorker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case wrapped := <-w.pool.taskQueue:
			w.execute(wrapped)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *poolWorker) execute(wrapped taskWrapper) {
	atomic.StoreInt32(&w.isActive, 1)
	atomic.AddInt64(&w.pool.tasksInProgress, 1)
	defer func() {
		atomic.StoreInt32(&w.isActive, 0)
		atomic.AddInt64(&w.pool.tasksInProgress, -1)
		atomic.AddInt64(&w.pool.tasksCompleted, 1)
	}()

	start := time.Now()
	data, err := wrapped.Task.Execute(wrapped.Context)
	end := time.Now()

	atomic.AddInt64(&w.pool.totalProcessTime, int64(end.Sub(start)))

	result := Result{
		TaskID: wrapped.Task.ID(),
		Data:   data,
		Error:  err,
		Timing: TaskTiming{
			StartTime:     start,
			EndTime:       end,
			Duration:      end.Sub(start),
			WorkerID:      w.ID,
			QueueWaitTime: start.Sub(wrapped.SubmittedAt),
		},
	}

	select {
	case w.pool.resultQueue <- result:
	case <-w.ctx.Done():
	default:
		log.Warn("result queue full, dropping result for task %s", wrapped.Task.ID())
	}
}
