// Package stub provides typed clients for remote services. Calls run as
// commands on the executor's pool and go out through the load balancer and
// the endpoint rewriter.
package stub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"dynhost/internal/client"
	"dynhost/internal/command"
	"dynhost/internal/model"
)

// maxBodyBytes bounds how much of a response body a stub call reads.
const maxBodyBytes = 1 << 20

// StatusError is returned when a remote service answers with a non-2xx status.
type StatusError struct {
	Service    string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Service, e.Path, e.StatusCode)
}

// Invoker issues calls to one logical service.
type Invoker struct {
	service  string
	chain    client.Client
	executor *command.Executor
	opts     model.Options
	logger   *slog.Logger
}

// NewInvoker creates an Invoker for service. chain is the full outgoing
// client chain, normally a Balancer around a Rewriter.
func NewInvoker(service string, chain client.Client, executor *command.Executor, opts model.Options, logger *slog.Logger) *Invoker {
	return &Invoker{
		service:  service,
		chain:    chain,
		executor: executor,
		opts:     opts,
		logger:   logger.With("component", "stub", "service", service),
	}
}

// Service returns the logical service name.
func (i *Invoker) Service() string { return i.service }

// Get calls GET path on the service and returns the response body.
func (i *Invoker) Get(ctx context.Context, path string, header model.Headers) (string, error) {
	req := model.NewRequest(http.MethodGet, "http://"+i.service+path, header, nil, "UTF-8")

	return command.Execute(ctx, i.executor, command.Command[string]{
		Group: i.service,
		Name:  "GET " + path,
		Run: func(ctx context.Context) (string, error) {
			return i.do(ctx, req, path)
		},
	})
}

func (i *Invoker) do(ctx context.Context, req *model.Request, path string) (string, error) {
	resp, err := i.chain.Execute(ctx, req, i.opts)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		i.logger.Debug("non-2xx response", "path", path, "status", resp.StatusCode)
		return "", &StatusError{Service: i.service, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}
