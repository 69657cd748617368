// Package pool provides a bounded goroutine pool for concurrent page fetches.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool runs tasks on at most MaxWorkers goroutines. Workers are
// started on demand and exit after IdleTimeout without work.
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32

	// mu 保护 taskQueue 的发送与关闭
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout time.Duration
	logger      *zap.Logger
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultGoroutinePoolConfig returns defaults sized for browser work, where
// each task holds a page open.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  4,
		QueueSize:   64,
		IdleTimeout: 30 * time.Second,
	}
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(config GoroutinePoolConfig, logger *zap.Logger) *GoroutinePool {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGoroutinePoolConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	// 至少为 1：阻塞中的发送方意味着队列非空，最后一个 worker 不会空闲退出
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &GoroutinePool{
		maxWorkers:  config.MaxWorkers,
		taskQueue:   make(chan taskWrapper, config.QueueSize),
		idleTimeout: config.IdleTimeout,
		logger:      logger.With(zap.String("component", "goroutine_pool")),
	}
}

// Submit queues a task without waiting for it. It returns ErrPoolFull when
// the queue is full.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := taskWrapper{task: task, ctx: ctx}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait queues a task, blocking while the queue is full, and waits
// for its result.
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueue(ctx, wrapper); err != nil {
		return err
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) enqueue(ctx context.Context, wrapper taskWrapper) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	p.ensureWorker()
	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// RunAll runs every task on the pool and returns their errors in order.
// A task that could not be queued reports the queueing error.
func (p *GoroutinePool) RunAll(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.SubmitWait(ctx, task)
		}()
	}
	wg.Wait()
	return errs
}

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if wrapper.result != nil {
				wrapper.result <- err
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// 空闲退出，但队列非空时保留最后一个 worker
			if p.workerCount.Load() > 1 || len(p.taskQueue) == 0 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("recover", r))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := wrapper.ctx.Err(); err != nil {
		return err
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks, lets queued tasks finish and waits for
// the workers.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()

	// 队列中残留任务但 worker 已空闲退出时补一个
	if len(p.taskQueue) > 0 {
		p.trySpawnWorker()
	}
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
