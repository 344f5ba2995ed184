package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"dynhost/internal/client"
	"dynhost/internal/command"
	"dynhost/internal/config"
	"dynhost/internal/discovery"
	"dynhost/internal/handler"
	"dynhost/internal/hostctx"
	"dynhost/internal/metrics"
	"dynhost/internal/middleware"
	"dynhost/internal/model"
	"dynhost/internal/service"
	"dynhost/internal/stub"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("dynhost"),
		kong.Description("Outgoing call client with per-call endpoint overrides."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newRegistry,
			newPlugins,
			newExecutor,
			fx.Annotate(newSharedClient, fx.ResultTags(`group:"clients"`)),
			newRewriter,
			newCustomHost,
			newDemoHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetrics, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. /test calls back into
	// this server, so the write timeout must exceed the command timeout.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 2*cfg.Command.Timeout() + 30*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.OverrideScope())

	if rl := middleware.RateLimiter(cfg.Server.RateLimit, logger); rl != nil {
		e.Use(rl)
	}

	return e
}

// newRegistry loads the static services. The demo service defaults to this
// server when the config does not name it.
func newRegistry(cfg *config.Config, logger *slog.Logger) *discovery.Registry {
	r := discovery.NewRegistry(cfg)
	if _, ok := r.Instances(stub.CustomHostService); !ok {
		self := cfg.Server.Self()
		r.Set(stub.CustomHostService, self)
		logger.Info("service not configured, using this server",
			"service", stub.CustomHostService,
			"instance", self.String(),
		)
	}
	return r
}

// newPlugins installs the endpoint override carrier. It must be provided
// before the executor so every pool worker gets an override slot.
func newPlugins(logger *slog.Logger, m *metrics.Metrics) *command.Plugins {
	plugins := command.NewPlugins()
	hostctx.NewCarrier(logger, m).Install(plugins)
	return plugins
}

func newExecutor(lc fx.Lifecycle, cfg *config.Config, plugins *command.Plugins, logger *slog.Logger, m *metrics.Metrics) *command.Executor {
	e := command.NewExecutor(cfg, plugins, logger, m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			e.Close()
			return nil
		},
	})
	return e
}

// newSharedClient is the application's shared outgoing client: the raw
// transport behind the load balancer.
func newSharedClient(cfg *config.Config, registry *discovery.Registry, logger *slog.Logger, m *metrics.Metrics) client.Client {
	return discovery.NewBalancer(client.NewHTTPClient(cfg, logger, m), registry, logger)
}

func newRewriter(p service.DelegateParams, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*service.Rewriter, error) {
	delegate, err := service.ResolveDelegate(p, func() (client.Client, error) {
		return client.NewHTTPClient(cfg, logger, m), nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("resolved delegate transport", "type", fmt.Sprintf("%T", delegate))
	return service.NewRewriter(delegate, logger, m), nil
}

func newCustomHost(cfg *config.Config, rewriter *service.Rewriter, registry *discovery.Registry, exec *command.Executor, logger *slog.Logger) *stub.CustomHost {
	// The rewriter sits inside the balancer so an override replaces the
	// balanced choice rather than bypassing the load-balancing layer.
	chain := discovery.NewBalancer(rewriter, registry, logger)
	opts := model.Options{
		ConnectTimeout:  cfg.Transport.ConnectTimeout(),
		ReadTimeout:     cfg.Transport.ReadTimeout(),
		FollowRedirects: cfg.Transport.FollowRedirects,
	}
	return stub.NewCustomHost(stub.NewInvoker(stub.CustomHostService, chain, exec, opts, logger))
}

func newDemoHandler(cfg *config.Config, caller *stub.CustomHost, logger *slog.Logger) *handler.DemoHandler {
	return handler.NewDemoHandler(caller, cfg.Server.Self(), logger)
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "self", cfg.Server.Self().String())
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
