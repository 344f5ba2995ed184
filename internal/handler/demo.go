package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"dynhost/internal/client"
	"dynhost/internal/command"
	"dynhost/internal/endpoint"
	"dynhost/internal/hostctx"
	"dynhost/internal/stub"
)

// maxConcurrentHosts bounds the fan-out of /test/concurrent.
const maxConcurrentHosts = 16

// errUnexpectedResponse is returned when a scenario step gets the wrong answer.
var errUnexpectedResponse = errors.New("unexpected response")

// CustomHostCaller is the outgoing client used by the demo scenario.
type CustomHostCaller interface {
	MockServer(ctx context.Context) (string, error)
	MockServerAt(ctx context.Context, host endpoint.Endpoint) (string, error)
	Test1(ctx context.Context) (string, error)
	Test1At(ctx context.Context, host endpoint.Endpoint) (string, error)
}

// DemoHandler serves the mock endpoints and the override scenarios that call
// back into them.
type DemoHandler struct {
	caller CustomHostCaller
	self   endpoint.Endpoint
	logger *slog.Logger
}

// NewDemoHandler creates a DemoHandler. self is the address this server is
// reachable at, used as the default override target.
func NewDemoHandler(caller CustomHostCaller, self endpoint.Endpoint, logger *slog.Logger) *DemoHandler {
	return &DemoHandler{
		caller: caller,
		self:   self,
		logger: logger.With("component", "demo_handler"),
	}
}

func (h *DemoHandler) MockServer(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *DemoHandler) Test1(c echo.Context) error {
	return c.String(http.StatusOK, "test1")
}

// Test runs the override scenario against ?host= (default: this server):
// header override, context override, then a bogus context value shadowed by
// the header, then removal.
func (h *DemoHandler) Test(c echo.Context) error {
	host := h.self
	if q := c.QueryParam("host"); q != "" {
		ep, err := endpoint.Parse(q)
		if err != nil {
			return h.mapError(c, err)
		}
		host = ep
	}

	ctx := hostctx.NewContext(c.Request().Context())
	defer hostctx.Remove(ctx)

	if err := expect("test1", func() (string, error) { return h.caller.Test1At(ctx, host) }); err != nil {
		return h.mapError(c, fmt.Errorf("header override: %w", err))
	}

	hostctx.Set(ctx, host)
	if err := expect("test1", func() (string, error) { return h.caller.Test1(ctx) }); err != nil {
		return h.mapError(c, fmt.Errorf("context override: %w", err))
	}

	hostctx.Set(ctx, "ssss")
	if err := expect("test1", func() (string, error) { return h.caller.Test1At(ctx, host) }); err != nil {
		return h.mapError(c, fmt.Errorf("header priority: %w", err))
	}

	hostctx.Remove(ctx)
	return c.String(http.StatusOK, "OK")
}

// ConcurrentResult is one fan-out call of /test/concurrent.
type ConcurrentResult struct {
	Host     string `json:"host"`
	Response string `json:"response"`
}

// Concurrent calls the mock server once per ?hosts= entry in parallel, each
// goroutine with its own context override.
func (h *DemoHandler) Concurrent(c echo.Context) error {
	hosts, err := parseHosts(c.QueryParam("hosts"), h.self)
	if err != nil {
		return h.mapError(c, err)
	}

	results := make([]ConcurrentResult, len(hosts))
	g, gctx := errgroup.WithContext(c.Request().Context())
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			ctx := hostctx.Set(hostctx.NewContext(gctx), host)
			defer hostctx.Remove(ctx)

			resp, err := h.caller.MockServer(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", host, err)
			}
			results[i] = ConcurrentResult{Host: host.String(), Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, results)
}

func parseHosts(raw string, self endpoint.Endpoint) ([]endpoint.Endpoint, error) {
	if strings.TrimSpace(raw) == "" {
		return []endpoint.Endpoint{self}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxConcurrentHosts {
		return nil, fmt.Errorf("%w: at most %d hosts", endpoint.ErrInvalid, maxConcurrentHosts)
	}
	hosts := make([]endpoint.Endpoint, 0, len(parts))
	for _, p := range parts {
		ep, err := endpoint.Parse(p)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, ep)
	}
	return hosts, nil
}

func expect(want string, call func() (string, error)) error {
	got, err := call()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %q, want %q", errUnexpectedResponse, got, want)
	}
	return nil
}

func (h *DemoHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("demo call failed",
		"err", err,
		"path", c.Request().URL.Path,
	)

	status, msg := classify(err)
	return c.JSON(status, map[string]string{
		"error": msg,
	})
}

func classify(err error) (int, string) {
	if errors.Is(err, endpoint.ErrInvalid) {
		return http.StatusBadRequest, err.Error()
	}

	var cerr *command.Error
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case command.KindTimeout:
			return http.StatusGatewayTimeout, "upstream request timed out"
		case command.KindRejected, command.KindShortCircuit:
			return http.StatusServiceUnavailable, "upstream temporarily unavailable"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	var serr *stub.StatusError
	if errors.As(err, &serr) {
		return http.StatusBadGateway, fmt.Sprintf("upstream returned status %d", serr.StatusCode)
	}

	var terr *client.TransportError
	if errors.As(err, &terr) {
		return http.StatusBadGateway, "upstream connection failed"
	}

	if errors.Is(err, errUnexpectedResponse) {
		return http.StatusInternalServerError, err.Error()
	}

	return http.StatusBadGateway, "upstream request failed"
}
