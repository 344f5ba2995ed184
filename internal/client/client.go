// Package client provides the outgoing transport that the endpoint rewriter wraps.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"dynhost/internal/config"
	"dynhost/internal/metrics"
	"dynhost/internal/model"
)

// Client executes an outgoing request. Implementations must not interpret the
// response body or status code; a non-nil error means no response was obtained.
type Client interface {
	Execute(ctx context.Context, req *model.Request, opts model.Options) (*model.Response, error)
}

// TransportError reports that the underlying transport failed to obtain a response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPClient is the default Client backed by net/http.
type HTTPClient struct {
	transport *http.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHTTPClient creates an HTTPClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewHTTPClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Transport.IdleConnections,
		MaxIdleConnsPerHost: cfg.Transport.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Transport.ConnectTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &HTTPClient{
		transport: transport,
		logger:    logger.With("component", "http_client"),
		metrics:   m,
	}
}

// Execute sends req and returns the raw response.
// The caller is responsible for closing the response body.
func (c *HTTPClient) Execute(ctx context.Context, req *model.Request, opts model.Options) (*model.Response, error) {
	cancel := context.CancelFunc(func() {})
	if opts.ReadTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.ReadTimeout)
	}

	resp, err := c.do(ctx, req, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	// The body outlives Execute; release the timeout when it is closed.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, req *model.Request, opts model.Options) (*model.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), req.URL(), bytes.NewReader(req.Body()))
	if err != nil {
		return nil, &TransportError{Method: req.Method(), URL: req.URL(), Err: err}
	}
	httpReq.Header = req.Headers().HTTP()

	hc := &http.Client{Transport: c.transport}
	if !opts.FollowRedirects {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	c.logger.Debug("outgoing request",
		"method", req.Method(),
		"host", httpReq.URL.Host,
		"path", httpReq.URL.Path,
	)

	start := time.Now()
	resp, err := hc.Do(httpReq) //nolint:bodyclose // body ownership transfers to caller via model.Response
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method())

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, &TransportError{Method: req.Method(), URL: req.URL(), Err: err}
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
