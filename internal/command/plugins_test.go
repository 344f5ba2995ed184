package command

import (
	"context"
	"slices"
	"sync"
	"testing"
)

// traceWrapper appends its name to a shared trace when the wrapped task runs.
type traceWrapper struct {
	name  string
	mu    *sync.Mutex
	trace *[]string
}

func (w traceWrapper) Name() string { return w.name }

func (w traceWrapper) Wrap(_ context.Context, task Task) Task {
	return func(ctx context.Context) error {
		w.mu.Lock()
		*w.trace = append(*w.trace, w.name)
		w.mu.Unlock()
		return task(ctx)
	}
}

func TestPlugins_WrapperChainComposes(t *testing.T) {
	var (
		mu    sync.Mutex
		trace []string
	)
	p := NewPlugins()
	if !p.RegisterWrapper(traceWrapper{name: "a", mu: &mu, trace: &trace}) {
		t.Fatal("RegisterWrapper(a) = false")
	}
	if !p.RegisterWrapper(traceWrapper{name: "b", mu: &mu, trace: &trace}) {
		t.Fatal("RegisterWrapper(b) = false")
	}

	task := p.Wrap(context.Background(), func(context.Context) error {
		mu.Lock()
		trace = append(trace, "task")
		mu.Unlock()
		return nil
	})
	if err := task(context.Background()); err != nil {
		t.Fatalf("task error = %v", err)
	}

	if want := []string{"b", "a", "task"}; !slices.Equal(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
	if want := []string{"request-scope", "a", "b"}; !slices.Equal(p.Wrappers(), want) {
		t.Errorf("Wrappers() = %v, want %v", p.Wrappers(), want)
	}
}

func TestPlugins_DuplicateRegistrationIgnored(t *testing.T) {
	var (
		mu    sync.Mutex
		trace []string
	)
	p := NewPlugins()
	p.RegisterWrapper(traceWrapper{name: "a", mu: &mu, trace: &trace})
	if p.RegisterWrapper(traceWrapper{name: "a", mu: &mu, trace: &trace}) {
		t.Error("second RegisterWrapper(a) should report false")
	}
	if p.RegisterWrapper(RequestScope{}) {
		t.Error("RequestScope is registered by NewPlugins; re-registering should report false")
	}

	h := &recordingHook{name: "h"}
	if !p.RegisterHook(h) {
		t.Error("RegisterHook(h) = false")
	}
	if p.RegisterHook(&recordingHook{name: "h"}) {
		t.Error("second RegisterHook(h) should report false")
	}

	fn := func(ctx context.Context) context.Context { return ctx }
	if !p.RegisterWorkerContext("w", fn) || p.RegisterWorkerContext("w", fn) {
		t.Error("RegisterWorkerContext should accept once per name")
	}
}

func TestRequestScope_CarriesInvocation(t *testing.T) {
	inv := &Invocation{Group: "g", Name: "n"}
	submit := withInvocation(context.Background(), inv)

	var got *Invocation
	task := RequestScope{}.Wrap(submit, func(ctx context.Context) error {
		got, _ = InvocationFrom(ctx)
		return nil
	})
	// Runs with an unrelated worker context.
	if err := task(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != inv {
		t.Errorf("InvocationFrom(worker ctx) = %v, want %v", got, inv)
	}
}
