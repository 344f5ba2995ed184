package command

import (
	"context"
	"sync"
)

// Wrapper decorates a task at submission time. Wrap runs on the submitting
// goroutine with the caller's context; the returned task runs on a worker.
type Wrapper interface {
	Name() string
	Wrap(ctx context.Context, task Task) Task
}

// Hook observes the command lifecycle.
type Hook interface {
	Name() string
	// OnStart runs on the caller before the task is submitted.
	OnStart(ctx context.Context, inv *Invocation)
	// OnExecutionStart runs on the worker before Run.
	OnExecutionStart(ctx context.Context, inv *Invocation)
	// OnFallbackStart runs wherever the fallback runs, before it.
	OnFallbackStart(ctx context.Context, inv *Invocation)
	OnSuccess(ctx context.Context, inv *Invocation)
	// OnError receives the failure and returns the error reported to the caller.
	OnError(ctx context.Context, inv *Invocation, err *Error) error
}

// NopHook implements Hook with no-ops; embed it to override selected stages.
type NopHook struct{}

func (NopHook) OnStart(context.Context, *Invocation) {}
func (NopHook) OnExecutionStart(context.Context, *Invocation) {}
func (NopHook) OnFallbackStart(context.Context, *Invocation) {}
func (NopHook) OnSuccess(context.Context, *Invocation) {}
func (NopHook) OnError(_ context.Context, _ *Invocation, err *Error) error { return err }

// Plugins holds the registered wrappers, hooks and worker context initializers.
// Registration appends; a name that is already registered is ignored, so a
// later registration never replaces an earlier one.
type Plugins struct {
	mu          sync.RWMutex
	wrappers    []Wrapper
	hooks       []Hook
	workerInits []workerInit
}

type workerInit struct {
	name string
	fn   func(context.Context) context.Context
}

// NewPlugins returns Plugins with the built-in RequestScope wrapper registered.
func NewPlugins() *Plugins {
	p := &Plugins{}
	p.RegisterWrapper(RequestScope{})
	return p
}

// RegisterWrapper appends w to the wrapper chain. It reports false if a
// wrapper with the same name is already registered.
func (p *Plugins) RegisterWrapper(w Wrapper) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.wrappers {
		if existing.Name() == w.Name() {
			return false
		}
	}
	p.wrappers = append(p.wrappers, w)
	return true
}

// RegisterHook appends h to the hook list. It reports false if a hook with
// the same name is already registered.
func (p *Plugins) RegisterHook(h Hook) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.hooks {
		if existing.Name() == h.Name() {
			return false
		}
	}
	p.hooks = append(p.hooks, h)
	return true
}

// RegisterWorkerContext adds fn to the initializers applied, in registration
// order, to each worker's long-lived context when a pool starts. Pools
// started before the call are not affected.
func (p *Plugins) RegisterWorkerContext(name string, fn func(context.Context) context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.workerInits {
		if existing.name == name {
			return false
		}
	}
	p.workerInits = append(p.workerInits, workerInit{name: name, fn: fn})
	return true
}

// Wrappers returns the registered wrapper names in registration order.
func (p *Plugins) Wrappers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.wrappers))
	for i, w := range p.wrappers {
		names[i] = w.Name()
	}
	return names
}

// Wrap applies every wrapper in registration order: the first registered
// wrapper is innermost, the last registered runs first on the worker.
func (p *Plugins) Wrap(ctx context.Context, task Task) Task {
	p.mu.RLock()
	wrappers := append([]Wrapper(nil), p.wrappers...)
	p.mu.RUnlock()

	for _, w := range wrappers {
		task = w.Wrap(ctx, task)
	}
	return task
}

func (p *Plugins) workerContext(ctx context.Context) context.Context {
	p.mu.RLock()
	inits := append([]workerInit(nil), p.workerInits...)
	p.mu.RUnlock()

	for _, in := range inits {
		ctx = in.fn(ctx)
	}
	return ctx
}

func (p *Plugins) snapshotHooks() []Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Hook(nil), p.hooks...)
}

func (p *Plugins) onStart(ctx context.Context, inv *Invocation) {
	for _, h := range p.snapshotHooks() {
		h.OnStart(ctx, inv)
	}
}

func (p *Plugins) onExecutionStart(ctx context.Context, inv *Invocation) {
	for _, h := range p.snapshotHooks() {
		h.OnExecutionStart(ctx, inv)
	}
}

func (p *Plugins) onFallbackStart(ctx context.Context, inv *Invocation) {
	for _, h := range p.snapshotHooks() {
		h.OnFallbackStart(ctx, inv)
	}
}

func (p *Plugins) onSuccess(ctx context.Context, inv *Invocation) {
	for _, h := range p.snapshotHooks() {
		h.OnSuccess(ctx, inv)
	}
}

func (p *Plugins) onError(ctx context.Context, inv *Invocation, cerr *Error) error {
	var err error = cerr
	for _, h := range p.snapshotHooks() {
		next := h.OnError(ctx, inv, cerr)
		if next == nil {
			continue
		}
		err = next
	}
	return err
}

// RequestScope carries the submitting invocation into the worker context so
// InvocationFrom works inside Run.
type RequestScope struct{}

func (RequestScope) Name() string { return "request-scope" }

func (RequestScope) Wrap(ctx context.Context, task Task) Task {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return task
	}
	return func(wctx context.Context) error {
		return task(withInvocation(wctx, inv))
	}
}
