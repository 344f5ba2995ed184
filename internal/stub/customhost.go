package stub

import (
	"context"

	"dynhost/internal/endpoint"
	"dynhost/internal/model"
)

// CustomHostService is the logical service name the CustomHost stub calls.
const CustomHostService = "custom-service"

const (
	MockServerPath = "/custom_feign_feign/mock_server"
	Test1Path      = "/test1"
)

// CustomHost is the client of the demo service. The plain methods let the
// context override or discovery pick the target; the At variants pin the
// target through the CUSTOM_HOST header.
type CustomHost struct {
	inv *Invoker
}

func NewCustomHost(inv *Invoker) *CustomHost {
	return &CustomHost{inv: inv}
}

func (c *CustomHost) MockServer(ctx context.Context) (string, error) {
	return c.inv.Get(ctx, MockServerPath, nil)
}

func (c *CustomHost) MockServerAt(ctx context.Context, host endpoint.Endpoint) (string, error) {
	return c.inv.Get(ctx, MockServerPath, hostHeader(host))
}

func (c *CustomHost) Test1(ctx context.Context) (string, error) {
	return c.inv.Get(ctx, Test1Path, nil)
}

func (c *CustomHost) Test1At(ctx context.Context, host endpoint.Endpoint) (string, error) {
	return c.inv.Get(ctx, Test1Path, hostHeader(host))
}

func hostHeader(host endpoint.Endpoint) model.Headers {
	return model.Headers{}.Add(endpoint.Header, host.String())
}
