package hostctx

import (
	"context"
	"log/slog"
	"sync"

	"dynhost/internal/command"
	"dynhost/internal/metrics"
)

const carrierName = "hostctx"

// Carrier moves the endpoint override from the goroutine that submits a
// command to the pool worker that runs it.
type Carrier struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	once    sync.Once
}

// NewCarrier creates a Carrier. The metrics parameter is optional.
func NewCarrier(logger *slog.Logger, m *metrics.Metrics) *Carrier {
	return &Carrier{
		logger:  logger.With("component", "hostctx_carrier"),
		metrics: m,
	}
}

// Install registers the carrier with plugins: a wrapper, a lifecycle hook and
// a worker context initializer giving every pool worker its own slot. It runs
// once per Carrier; registrations already present on plugins are kept.
// Install must run before the executor starts its pool.
func (c *Carrier) Install(plugins *command.Plugins) {
	c.once.Do(func() {
		if !plugins.RegisterWorkerContext(carrierName, NewContext) {
			c.logger.Warn("worker context already registered", "name", carrierName)
		}
		if !plugins.RegisterWrapper(c) {
			c.logger.Warn("wrapper already registered", "name", carrierName)
		}
		if !plugins.RegisterHook(c) {
			c.logger.Warn("hook already registered", "name", carrierName)
		}
	})
}

func (c *Carrier) Name() string { return carrierName }

// Wrap captures the override of ctx now and replays it on the worker. The
// worker's slot is cleared when task returns, fails or panics.
func (c *Carrier) Wrap(ctx context.Context, task command.Task) command.Task {
	snap := Capture(ctx)
	return func(wctx context.Context) error {
		wctx, remove := snap.Install(wctx)
		defer remove()
		return task(wctx)
	}
}

func (c *Carrier) OnStart(ctx context.Context, inv *command.Invocation) {
	c.observe(ctx, inv, "start")
}

func (c *Carrier) OnExecutionStart(ctx context.Context, inv *command.Invocation) {
	c.observe(ctx, inv, "execution")
}

func (c *Carrier) OnFallbackStart(ctx context.Context, inv *command.Invocation) {
	c.observe(ctx, inv, "fallback")
}

func (c *Carrier) OnSuccess(ctx context.Context, inv *command.Invocation) {
	c.observe(ctx, inv, "success")
}

// OnError never changes the outcome.
func (c *Carrier) OnError(ctx context.Context, inv *command.Invocation, err *command.Error) error {
	c.observe(ctx, inv, "error")
	return err
}

func (c *Carrier) observe(ctx context.Context, inv *command.Invocation, stage string) {
	ep, ok := Get(ctx).Get()
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.ContextCarried.WithLabelValues(stage).Inc()
	}
	c.logger.Debug("endpoint override in scope",
		"stage", stage,
		"invocation", inv.String(),
		"endpoint", ep.String(),
	)
}
