// Package service implements the endpoint-override layer of the outgoing
// call chain and the startup lookup of the transport it wraps.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"dynhost/internal/client"
	"dynhost/internal/endpoint"
	"dynhost/internal/hostctx"
	"dynhost/internal/metrics"
	"dynhost/internal/model"
)

// ErrInvalidTarget is returned when an override applies to a request whose
// URL has no authority to replace.
var ErrInvalidTarget = errors.New("request target has no authority to rewrite")

// Rewriter redirects outgoing requests to an override endpoint taken from the
// CUSTOM_HOST header or, failing that, from the context slot. Requests
// without an override are forwarded untouched.
type Rewriter struct {
	delegate client.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRewriter wraps delegate. The metrics parameter is optional.
func NewRewriter(delegate client.Client, logger *slog.Logger, m *metrics.Metrics) *Rewriter {
	return &Rewriter{
		delegate: delegate,
		logger:   logger.With("component", "rewriter"),
		metrics:  m,
	}
}

// Delegate returns the wrapped transport.
func (r *Rewriter) Delegate() client.Client { return r.delegate }

// Execute resolves the override for req and forwards it. Delegate errors are
// returned unchanged.
func (r *Rewriter) Execute(ctx context.Context, req *model.Request, opts model.Options) (*model.Response, error) {
	headerValue, hasHeader := req.Headers().First(endpoint.Header)
	decision := endpoint.Decide(endpoint.FromString(headerValue), hostctx.Get(ctx))
	r.count(decision.Source)

	ep, ok := decision.Endpoint.Get()
	if !ok {
		r.logger.Warn("no endpoint override, request not rewritten",
			"method", req.Method(),
			"url", req.URL(),
		)
		if hasHeader {
			// A blank header is still never sent on.
			req = req.WithHeaders(req.Headers().Without(endpoint.Header))
		}
		return r.delegate.Execute(ctx, req, opts)
	}

	rewritten, err := rewrite(req, ep)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("rewrote request",
		"method", rewritten.Method(),
		"url", rewritten.URL(),
		"source", string(decision.Source),
	)
	return r.delegate.Execute(ctx, rewritten, opts)
}

// rewrite replaces the host of req's URL with ep and drops the override
// header. Path, query and fragment are left as they are even if they contain
// the old host.
func rewrite(req *model.Request, ep endpoint.Endpoint) (*model.Request, error) {
	u, err := url.Parse(req.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, req.URL())
	}
	u.Host = ep.String()

	return req.WithURL(u.String()).WithHeaders(req.Headers().Without(endpoint.Header)), nil
}

func (r *Rewriter) count(source endpoint.Source) {
	if r.metrics == nil {
		return
	}
	r.metrics.Rewrites.WithLabelValues(string(source)).Inc()
}
