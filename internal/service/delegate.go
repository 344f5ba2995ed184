package service

import (
	"errors"
	"fmt"

	"go.uber.org/fx"

	"dynhost/internal/client"
)

// ConfigurationError reports that no usable delegate transport could be
// resolved at startup.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("resolve delegate transport: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DelegateParams collects the candidate transports registered in the
// application graph.
type DelegateParams struct {
	fx.In

	// Delegates are clients explicitly marked as the transport to wrap.
	Delegates []client.Client `group:"delegates"`
	// Clients are the shared transports, possibly behind a load balancer.
	Clients []client.Client `group:"clients"`
}

// unwrapper is implemented by load-balancing layers.
type unwrapper interface {
	Unwrap() client.Client
}

// ResolveDelegate picks the transport the Rewriter forwards to, in order:
// the first explicitly marked delegate, then the first shared client with
// one load-balancing layer peeled off, then newDefault(). Rewriters are never
// chosen, so the Rewriter cannot end up as its own delegate.
func ResolveDelegate(p DelegateParams, newDefault func() (client.Client, error)) (client.Client, error) {
	for _, c := range p.Delegates {
		if usable(c) {
			return c, nil
		}
	}

	for _, c := range p.Clients {
		if u, ok := c.(unwrapper); ok {
			c = u.Unwrap()
		}
		if usable(c) {
			return c, nil
		}
	}

	if newDefault == nil {
		return nil, &ConfigurationError{Err: errors.New("no delegate registered and no default transport")}
	}
	c, err := newDefault()
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("default transport: %w", err)}
	}
	if !usable(c) {
		return nil, &ConfigurationError{Err: errors.New("default transport is unusable")}
	}
	return c, nil
}

func usable(c client.Client) bool {
	if c == nil {
		return false
	}
	_, isRewriter := c.(*Rewriter)
	return !isRewriter
}
