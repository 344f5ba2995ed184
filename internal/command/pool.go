package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool runs tasks on a fixed set of worker goroutines fed by a bounded queue.
// Each worker owns one long-lived context for its whole life; tasks receive it.
type Pool struct {
	name   string
	logger *slog.Logger
	queue  chan job
	active atomic.Int32
	gauge  prometheus.Gauge

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	task Task
	done chan error
}

// NewPool starts workers goroutines. workerCtx builds each worker's context
// from ctx. gauge is optional.
func NewPool(ctx context.Context, name string, workers, queueSize int, workerCtx func(context.Context) context.Context, logger *slog.Logger, gauge prometheus.Gauge) *Pool {
	p := &Pool{
		name:   name,
		logger: logger.With("component", "command_pool", "pool", name),
		queue:  make(chan job, queueSize),
		gauge:  gauge,
	}

	for i := 0; i < workers; i++ {
		wctx := ctx
		if workerCtx != nil {
			wctx = workerCtx(ctx)
		}
		p.wg.Add(1)
		go p.work(wctx, i)
	}
	return p
}

// Submit queues task without blocking. The returned channel receives the
// task's error exactly once. It reports false if the queue is full or the
// pool is closed.
func (p *Pool) Submit(task Task) (<-chan error, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, false
	}

	j := job{task: task, done: make(chan error, 1)}
	select {
	case p.queue <- j:
		return j.done, true
	default:
		return nil, false
	}
}

// ActiveCount returns the number of workers currently running a task.
func (p *Pool) ActiveCount() int32 {
	return p.active.Load()
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(ctx, id, j)
	}
}

func (p *Pool) run(ctx context.Context, id int, j job) {
	p.active.Add(1)
	if p.gauge != nil {
		p.gauge.Inc()
	}
	defer func() {
		p.active.Add(-1)
		if p.gauge != nil {
			p.gauge.Dec()
		}
	}()

	j.done <- p.safeRun(ctx, id, j.task)
}

func (p *Pool) safeRun(ctx context.Context, id int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in pool task",
				"worker", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}
