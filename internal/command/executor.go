package command

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"dynhost/internal/config"
	"dynhost/internal/metrics"
)

// Executor runs commands on its worker pool.
type Executor struct {
	plugins *Plugins
	pool    *Pool
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	breakerThreshold int
	breakerCooldown  time.Duration
	now              func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewExecutor starts the worker pool. Worker context initializers must be
// registered on plugins before this call. The metrics parameter is optional.
func NewExecutor(cfg *config.Config, plugins *Plugins, logger *slog.Logger, m *metrics.Metrics) *Executor {
	e := &Executor{
		plugins:          plugins,
		timeout:          cfg.Command.Timeout(),
		logger:           logger.With("component", "command_executor"),
		metrics:          m,
		breakerThreshold: cfg.Command.BreakerThreshold,
		breakerCooldown:  cfg.Command.BreakerCooldown(),
		now:              time.Now,
		breakers:         make(map[string]*breaker),
	}

	var gauge prometheus.Gauge
	if m != nil {
		gauge = m.CommandPoolActive
	}
	e.pool = NewPool(context.Background(), "command", cfg.Command.Workers, cfg.Command.QueueSize,
		plugins.workerContext, logger, gauge)
	return e
}

// Close drains the worker pool.
func (e *Executor) Close() {
	e.pool.Close()
}

// Plugins returns the executor's plugin registry.
func (e *Executor) Plugins() *Plugins {
	return e.plugins
}

// CircuitOpen reports whether the circuit for group is currently open.
func (e *Executor) CircuitOpen(group string) bool {
	return e.breaker(group).open()
}

func (e *Executor) breaker(group string) *breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[group]
	if !ok {
		b = newBreaker(e.breakerThreshold, e.breakerCooldown, e.now)
		e.breakers[group] = b
	}
	return b
}

// Execute runs cmd on the executor's pool and waits for the result.
//
// The task is wrapped by the registered plugins on the calling goroutine, so
// wrappers see ctx. Run failures are retried by nobody: they go to the
// fallback if one is set, otherwise to the caller as *Error.
func Execute[T any](ctx context.Context, e *Executor, cmd Command[T]) (T, error) {
	var zero T
	inv := &Invocation{ID: uuid.New(), Group: cmd.Group, Name: cmd.Name}
	ctx = withInvocation(ctx, inv)
	e.plugins.onStart(ctx, inv)

	br := e.breaker(cmd.Group)
	if !br.allow() {
		return fallbackOnCaller(ctx, e, inv, cmd, &Error{Kind: KindShortCircuit, Command: cmd.Name, Err: ErrShortCircuit})
	}

	execCtx := ctx
	cancelExec := context.CancelFunc(func() {})
	if e.timeout > 0 {
		execCtx, cancelExec = context.WithTimeout(ctx, e.timeout)
	}
	defer cancelExec()

	// Written by the worker, read only after done delivers.
	var (
		result     T
		runErr     error
		fellBack   bool
		fallbackOK bool
	)
	body := func(wctx context.Context) error {
		wctx, cancel := context.WithCancel(wctx)
		defer cancel()
		stop := context.AfterFunc(execCtx, cancel)
		defer stop()

		e.plugins.onExecutionStart(wctx, inv)
		v, err := cmd.Run(wctx)
		if err == nil {
			result = v
			return nil
		}
		runErr = err
		if cmd.Fallback == nil {
			return err
		}
		fellBack = true
		e.plugins.onFallbackStart(wctx, inv)
		v, ferr := cmd.Fallback(wctx, err)
		if ferr != nil {
			return errors.Join(err, ferr)
		}
		result, fallbackOK = v, true
		return nil
	}

	done, ok := e.pool.Submit(e.plugins.Wrap(ctx, body))
	if !ok {
		return fallbackOnCaller(ctx, e, inv, cmd, &Error{Kind: KindRejected, Command: cmd.Name, Err: ErrRejected})
	}

	select {
	case err := <-done:
		if err != nil && execCtx.Err() != nil {
			// The run lost the race with the deadline; report it as such.
			return expired(ctx, e, inv, cmd, br, execCtx.Err())
		}
		br.record(runErr != nil || err != nil)
		switch {
		case err == nil && fallbackOK:
			e.count(cmd.Group, "fallback")
			e.plugins.onSuccess(ctx, inv)
			return result, nil
		case err == nil:
			e.count(cmd.Group, "success")
			e.plugins.onSuccess(ctx, inv)
			return result, nil
		default:
			e.count(cmd.Group, "failure")
			e.logger.Debug("command failed",
				"invocation", inv.String(),
				"fallback", fellBack,
				"err", err,
			)
			return zero, e.plugins.onError(ctx, inv, &Error{Kind: KindRun, Command: cmd.Name, Err: err})
		}

	case <-execCtx.Done():
		return expired(ctx, e, inv, cmd, br, execCtx.Err())
	}
}

func expired[T any](ctx context.Context, e *Executor, inv *Invocation, cmd Command[T], br *breaker, cause error) (T, error) {
	kind := KindTimeout
	if errors.Is(cause, context.Canceled) {
		kind = KindCanceled
	} else {
		br.record(true)
	}
	return fallbackOnCaller(ctx, e, inv, cmd, &Error{Kind: kind, Command: cmd.Name, Err: cause})
}

// fallbackOnCaller handles failures that never reached a worker, or that the
// caller stopped waiting for.
func fallbackOnCaller[T any](ctx context.Context, e *Executor, inv *Invocation, cmd Command[T], cerr *Error) (T, error) {
	var zero T
	if cmd.Fallback != nil && cerr.Kind != KindCanceled {
		e.plugins.onFallbackStart(ctx, inv)
		v, err := cmd.Fallback(ctx, cerr)
		if err == nil {
			e.count(cmd.Group, "fallback")
			e.plugins.onSuccess(ctx, inv)
			return v, nil
		}
		cerr = &Error{Kind: cerr.Kind, Command: cerr.Command, Err: errors.Join(cerr.Err, err)}
	}

	e.count(cmd.Group, string(cerr.Kind))
	e.logger.Debug("command not completed",
		"invocation", inv.String(),
		"kind", string(cerr.Kind),
	)
	return zero, e.plugins.onError(ctx, inv, cerr)
}

func (e *Executor) count(group, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.CommandExecutions.WithLabelValues(group, outcome).Inc()
}
