// Package hostctx carries a per-call endpoint override through a
// context.Context, including across the command pool boundary.
package hostctx

import (
	"context"

	"github.com/alecthomas/atomic"
	"github.com/alecthomas/types/optional"

	"dynhost/internal/endpoint"
)

// Slot holds at most one endpoint override for one execution context.
type Slot struct {
	value atomic.Value[optional.Option[endpoint.Endpoint]]
}

func (s *Slot) Get() optional.Option[endpoint.Endpoint] { return s.value.Load() }

func (s *Slot) Set(ep endpoint.Endpoint) { s.value.Store(optional.Some(ep)) }

func (s *Slot) Remove() { s.value.Store(optional.None[endpoint.Endpoint]()) }

type slotKey struct{}

// NewContext returns a child of ctx that owns a fresh, empty slot.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey{}, &Slot{})
}

func slotFrom(ctx context.Context) (*Slot, bool) {
	s, ok := ctx.Value(slotKey{}).(*Slot)
	return s, ok
}

// Set stores ep in the slot carried by ctx. When ctx carries no slot, one is
// attached and the derived context is returned; otherwise ctx is returned
// as is. Callers should continue with the returned context.
func Set(ctx context.Context, ep endpoint.Endpoint) context.Context {
	if s, ok := slotFrom(ctx); ok {
		s.Set(ep)
		return ctx
	}
	ctx = NewContext(ctx)
	s, _ := slotFrom(ctx)
	s.Set(ep)
	return ctx
}

// Get returns the override held by the slot carried by ctx, if any.
func Get(ctx context.Context) optional.Option[endpoint.Endpoint] {
	if s, ok := slotFrom(ctx); ok {
		return s.Get()
	}
	return optional.None[endpoint.Endpoint]()
}

// Remove clears the slot carried by ctx. It is a no-op without a slot.
func Remove(ctx context.Context) {
	if s, ok := slotFrom(ctx); ok {
		s.Remove()
	}
}

// Snapshot is an immutable copy of a slot's value. The zero Snapshot holds
// no override.
type Snapshot struct {
	value optional.Option[endpoint.Endpoint]
}

// Capture copies the current value of ctx's slot. Absence is captured too.
func Capture(ctx context.Context) Snapshot {
	return Snapshot{value: Get(ctx)}
}

// Value returns the captured override.
func (s Snapshot) Value() optional.Option[endpoint.Endpoint] { return s.value }

// Install writes the snapshot into ctx's slot and returns the context to run
// with plus a func that clears the slot. Install must be paired with the
// returned func, normally via defer.
func (s Snapshot) Install(ctx context.Context) (context.Context, func()) {
	slot, ok := slotFrom(ctx)
	if !ok {
		ctx = NewContext(ctx)
		slot, _ = slotFrom(ctx)
	}
	if ep, ok := s.value.Get(); ok {
		slot.Set(ep)
	} else {
		slot.Remove()
	}
	return ctx, slot.Remove
}
