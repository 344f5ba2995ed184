// Package endpoint decides which physical endpoint an outgoing call targets.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/alecthomas/types/optional"
)

// Header is the reserved request header carrying a per-call endpoint override.
const Header = "CUSTOM_HOST"

// ErrInvalid is returned by Parse for values that are not a bare host[:port].
var ErrInvalid = errors.New("invalid endpoint")

// Endpoint is a host[:port] string that replaces the authority of a request target.
type Endpoint string

func (e Endpoint) String() string { return string(e) }

// Blank reports whether e carries no usable value.
func (e Endpoint) Blank() bool {
	return strings.TrimSpace(string(e)) == ""
}

// Source identifies where an override came from.
type Source string

const (
	SourceNone    Source = "none"
	SourceHeader  Source = "header"
	SourceContext Source = "context"
)

// Decision is the outcome of resolving the header and context overrides.
type Decision struct {
	Endpoint optional.Option[Endpoint]
	Source   Source
}

// Resolve returns the effective override endpoint.
//
// The header override wins over the context override. Blank values count as
// absent. None means the caller must defer to service discovery.
func Resolve(header, context optional.Option[Endpoint]) optional.Option[Endpoint] {
	return Decide(header, context).Endpoint
}

// Decide is Resolve that also reports which source won.
func Decide(header, context optional.Option[Endpoint]) Decision {
	if ep, ok := nonBlank(header); ok {
		return Decision{Endpoint: optional.Some(ep), Source: SourceHeader}
	}
	if ep, ok := nonBlank(context); ok {
		return Decision{Endpoint: optional.Some(ep), Source: SourceContext}
	}
	return Decision{Endpoint: optional.None[Endpoint](), Source: SourceNone}
}

// FromString wraps s as an optional endpoint, None when blank.
func FromString(s string) optional.Option[Endpoint] {
	ep := Endpoint(strings.TrimSpace(s))
	if ep.Blank() {
		return optional.None[Endpoint]()
	}
	return optional.Some(ep)
}

func nonBlank(o optional.Option[Endpoint]) (Endpoint, bool) {
	ep, ok := o.Get()
	if !ok || ep.Blank() {
		return "", false
	}
	return Endpoint(strings.TrimSpace(string(ep))), true
}

// Parse validates s as a bare host[:port] with no scheme, userinfo or path.
// Use it for values arriving from untrusted input; Resolve itself does not
// validate.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.ContainsAny(s, "/?#@ ") {
		return "", fmt.Errorf("%w: %q must be host[:port]", ErrInvalid, s)
	}

	host := s
	bracketed := strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
	if strings.Contains(s, ":") && !bracketed {
		h, port, err := net.SplitHostPort(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: %q: port must be 1-65535", ErrInvalid, s)
		}
		host = h
	}
	if strings.Trim(host, "[]") == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalid, s)
	}
	return Endpoint(s), nil
}
