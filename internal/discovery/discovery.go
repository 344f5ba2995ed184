// Package discovery resolves logical service names to configured instances.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sync"

	"github.com/alecthomas/atomic"

	"dynhost/internal/client"
	"dynhost/internal/config"
	"dynhost/internal/endpoint"
	"dynhost/internal/model"
)

// ErrNoInstances is returned when a known service has no instances to call.
var ErrNoInstances = errors.New("service has no instances")

// Registry is a static service name to instances table. Updates replace the
// whole table so readers never see a partial view.
type Registry struct {
	services atomic.Value[map[string][]endpoint.Endpoint]
	writeMu  sync.Mutex
}

// NewRegistry builds a Registry from the [services] config section.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{}
	table := make(map[string][]endpoint.Endpoint, len(cfg.Services))
	for name, svc := range cfg.Services {
		eps := make([]endpoint.Endpoint, 0, len(svc.Instances))
		for _, inst := range svc.Instances {
			eps = append(eps, endpoint.Endpoint(inst))
		}
		table[name] = eps
	}
	r.services.Store(table)
	return r
}

// Instances returns the instances registered for name.
func (r *Registry) Instances(name string) ([]endpoint.Endpoint, bool) {
	eps, ok := r.services.Load()[name]
	return slices.Clone(eps), ok
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	var names []string
	for name := range r.services.Load() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Set replaces the instances of name.
func (r *Registry) Set(name string, instances ...endpoint.Endpoint) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := maps.Clone(r.services.Load())
	if next == nil {
		next = make(map[string][]endpoint.Endpoint)
	}
	next[name] = slices.Clone(instances)
	r.services.Store(next)
}

// Balancer is the load-balancing layer: requests addressed to a registered
// service name are sent to its instances in round-robin order. Other hosts
// pass through untouched.
type Balancer struct {
	next     client.Client
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	counters map[string]uint64
}

// NewBalancer wraps next.
func NewBalancer(next client.Client, registry *Registry, logger *slog.Logger) *Balancer {
	return &Balancer{
		next:     next,
		registry: registry,
		logger:   logger.With("component", "balancer"),
		counters: make(map[string]uint64),
	}
}

// Unwrap returns the client beneath the balancer.
func (b *Balancer) Unwrap() client.Client { return b.next }

func (b *Balancer) Execute(ctx context.Context, req *model.Request, opts model.Options) (*model.Response, error) {
	u, err := url.Parse(req.URL())
	if err != nil || u.Host == "" {
		return b.next.Execute(ctx, req, opts)
	}

	instances, ok := b.registry.Instances(u.Host)
	if !ok {
		return b.next.Execute(ctx, req, opts)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstances, u.Host)
	}

	chosen := instances[b.pick(u.Host, len(instances))]
	b.logger.Debug("balanced request",
		"service", u.Host,
		"instance", chosen.String(),
	)
	u.Host = chosen.String()
	return b.next.Execute(ctx, req.WithURL(u.String()), opts)
}

func (b *Balancer) pick(service string, n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.counters[service]
	b.counters[service] = i + 1
	return int(i % uint64(n))
}
