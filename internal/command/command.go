// Package command runs units of work on a bounded worker pool with lifecycle
// hooks, pluggable task wrappers, per-command timeouts, fallbacks and a
// consecutive-failure circuit breaker.
//
// Cross-cutting concerns attach through Plugins: a Wrapper decorates each task
// at submission time on the caller's goroutine, and a Hook observes the
// lifecycle (start, execution start on the worker, fallback start, success,
// error). Neither can change breaker decisions.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrRejected is returned when the pool queue is full or the pool is closed.
	ErrRejected = errors.New("command rejected: pool queue full")
	// ErrShortCircuit is returned while the circuit for a group is open.
	ErrShortCircuit = errors.New("command short-circuited: circuit open")
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("command panicked")
)

// Task is a unit of work run on a pool worker. ctx is the worker's execution context.
type Task func(ctx context.Context) error

// Invocation identifies one execution of a command.
type Invocation struct {
	ID    uuid.UUID
	Group string
	Name  string
}

func (i *Invocation) String() string {
	return fmt.Sprintf("%s.%s[%s]", i.Group, i.Name, i.ID)
}

// Kind classifies why a command failed.
type Kind string

const (
	KindRun          Kind = "run"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindRejected     Kind = "rejected"
	KindShortCircuit Kind = "short-circuit"
)

// Error is returned by Execute when a command fails and no fallback recovered it.
type Error struct {
	Kind    Kind
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("command %s: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Command describes a unit of work and its optional fallback.
type Command[T any] struct {
	Group string
	Name  string
	Run   func(ctx context.Context) (T, error)
	// Fallback, if set, is called with the failure. For run failures it runs on
	// the worker; for rejections, short-circuits and timeouts on the caller.
	Fallback func(ctx context.Context, err error) (T, error)
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation a context belongs to.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}
