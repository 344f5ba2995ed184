package command

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"dynhost/internal/config"
	"dynhost/internal/metrics"
)

func newTestExecutor(t *testing.T, cc config.CommandConfig, plugins *Plugins) *Executor {
	t.Helper()
	if plugins == nil {
		plugins = NewPlugins()
	}
	e := NewExecutor(&config.Config{Command: cc}, plugins, discardLogger(), metrics.New())
	t.Cleanup(e.Close)
	return e
}

// recordingHook records lifecycle stages in order.
type recordingHook struct {
	name string
	mu   sync.Mutex
	log  []string
	err  error
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) add(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, s)
}

func (h *recordingHook) stages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.log)
}

func (h *recordingHook) OnStart(context.Context, *Invocation)          { h.add("start") }
func (h *recordingHook) OnExecutionStart(context.Context, *Invocation) { h.add("execution") }
func (h *recordingHook) OnFallbackStart(context.Context, *Invocation)  { h.add("fallback") }
func (h *recordingHook) OnSuccess(context.Context, *Invocation)        { h.add("success") }
func (h *recordingHook) OnError(_ context.Context, _ *Invocation, err *Error) error {
	h.add("error:" + string(err.Kind))
	if h.err != nil {
		return h.err
	}
	return err
}

func TestExecute_Success(t *testing.T) {
	hook := &recordingHook{name: "rec"}
	plugins := NewPlugins()
	plugins.RegisterHook(hook)
	e := newTestExecutor(t, config.CommandConfig{Workers: 2, QueueSize: 2, TimeoutMS: 1000}, plugins)

	got, err := Execute(context.Background(), e, Command[string]{
		Group: "svc",
		Name:  "hello",
		Run: func(ctx context.Context) (string, error) {
			inv, ok := InvocationFrom(ctx)
			if !ok {
				return "", errors.New("no invocation in worker context")
			}
			return inv.Group + "." + inv.Name, nil
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "svc.hello" {
		t.Errorf("result = %q, want %q", got, "svc.hello")
	}
	if want := []string{"start", "execution", "success"}; !slices.Equal(hook.stages(), want) {
		t.Errorf("stages = %v, want %v", hook.stages(), want)
	}
}

func TestExecute_RunErrorWithoutFallback(t *testing.T) {
	hook := &recordingHook{name: "rec"}
	plugins := NewPlugins()
	plugins.RegisterHook(hook)
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 1000}, plugins)

	boom := errors.New("boom")
	_, err := Execute(context.Background(), e, Command[int]{
		Group: "svc",
		Name:  "fail",
		Run:   func(context.Context) (int, error) { return 0, boom },
	})

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %T %v, want *Error", err, err)
	}
	if cerr.Kind != KindRun {
		t.Errorf("Kind = %q, want %q", cerr.Kind, KindRun)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want it to wrap boom", err)
	}
	if want := []string{"start", "execution", "error:run"}; !slices.Equal(hook.stages(), want) {
		t.Errorf("stages = %v, want %v", hook.stages(), want)
	}
}

func TestExecute_FallbackOnWorker(t *testing.T) {
	hook := &recordingHook{name: "rec"}
	plugins := NewPlugins()
	plugins.RegisterHook(hook)
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 1000}, plugins)

	got, err := Execute(context.Background(), e, Command[string]{
		Group: "svc",
		Name:  "fallback",
		Run:   func(context.Context) (string, error) { return "", errors.New("down") },
		Fallback: func(ctx context.Context, err error) (string, error) {
			if _, ok := InvocationFrom(ctx); !ok {
				return "", errors.New("fallback lost the worker context")
			}
			return "cached:" + err.Error(), nil
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "cached:down" {
		t.Errorf("result = %q, want %q", got, "cached:down")
	}
	if want := []string{"start", "execution", "fallback", "success"}; !slices.Equal(hook.stages(), want) {
		t.Errorf("stages = %v, want %v", hook.stages(), want)
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 50}, nil)

	cmd := Command[string]{
		Group: "svc",
		Name:  "slow",
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	_, err := Execute(context.Background(), e, cmd)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if cerr.Kind != KindTimeout {
		t.Errorf("Kind = %q, want timeout", cerr.Kind)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}

	cmd.Fallback = func(context.Context, error) (string, error) { return "default", nil }
	got, err := Execute(context.Background(), e, cmd)
	if err != nil {
		t.Fatalf("Execute() with fallback error = %v", err)
	}
	if got != "default" {
		t.Errorf("result = %q, want %q", got, "default")
	}
}

func TestExecute_Rejected(t *testing.T) {
	hook := &recordingHook{name: "rec"}
	plugins := NewPlugins()
	plugins.RegisterHook(hook)
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 1000}, plugins)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	if _, ok := e.pool.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	}); !ok {
		t.Fatal("blocker rejected")
	}
	<-started
	if _, ok := e.pool.Submit(func(context.Context) error { return nil }); !ok {
		t.Fatal("queue filler rejected")
	}

	ran := false
	_, err := Execute(context.Background(), e, Command[int]{
		Group: "svc",
		Name:  "rejected",
		Run: func(context.Context) (int, error) {
			ran = true
			return 1, nil
		},
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if ran {
		t.Error("Run must not be called for a rejected command")
	}
	if want := []string{"start", "error:rejected"}; !slices.Equal(hook.stages(), want) {
		t.Errorf("stages = %v, want %v", hook.stages(), want)
	}
}

func TestExecute_PanicBecomesRunError(t *testing.T) {
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 1000}, nil)

	_, err := Execute(context.Background(), e, Command[int]{
		Group: "svc",
		Name:  "panic",
		Run:   func(context.Context) (int, error) { panic("kaboom") },
	})
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("error = %v, want ErrPanic", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error = %q, want panic value in message", err)
	}
}

func TestExecute_CircuitBreaker(t *testing.T) {
	e := newTestExecutor(t, config.CommandConfig{
		Workers:           1,
		QueueSize:         1,
		TimeoutMS:         1000,
		BreakerThreshold:  2,
		BreakerCooldownMS: 60_000,
	}, nil)
	now := time.Now()
	e.now = func() time.Time { return now }

	calls := 0
	failing := Command[int]{
		Group: "flaky",
		Name:  "call",
		Run: func(context.Context) (int, error) {
			calls++
			return 0, errors.New("down")
		},
	}

	for iter := 0; iter < 2; iter++ {
		if _, err := Execute(context.Background(), e, failing); err == nil {
			t.Fatal("expected failure")
		}
	}
	if !e.CircuitOpen("flaky") {
		t.Fatal("circuit should be open after 2 consecutive failures")
	}

	_, err := Execute(context.Background(), e, failing)
	if !errors.Is(err, ErrShortCircuit) {
		t.Fatalf("error = %v, want ErrShortCircuit", err)
	}
	if calls != 2 {
		t.Errorf("Run calls = %d, want 2 (short-circuited call must not run)", calls)
	}
	if e.CircuitOpen("other") {
		t.Error("circuits must be per group")
	}

	// After the cooldown one trial is let through; success closes the circuit.
	now = now.Add(time.Minute)
	got, err := Execute(context.Background(), e, Command[int]{
		Group: "flaky",
		Name:  "call",
		Run:   func(context.Context) (int, error) { return 7, nil },
	})
	if err != nil || got != 7 {
		t.Fatalf("trial = (%d, %v), want (7, nil)", got, err)
	}
	if e.CircuitOpen("flaky") {
		t.Error("circuit should close after a successful trial")
	}
}

func TestExecute_HookCanReplaceError(t *testing.T) {
	replaced := errors.New("replaced")
	plugins := NewPlugins()
	plugins.RegisterHook(&recordingHook{name: "rec", err: replaced})
	e := newTestExecutor(t, config.CommandConfig{Workers: 1, QueueSize: 1, TimeoutMS: 1000}, plugins)

	_, err := Execute(context.Background(), e, Command[int]{
		Group: "svc",
		Name:  "fail",
		Run:   func(context.Context) (int, error) { return 0, errors.New("original") },
	})
	if !errors.Is(err, replaced) {
		t.Errorf("error = %v, want the hook's replacement", err)
	}
}
