// Package model defines the request and response types shared by the transport chain.
package model

import (
	"io"
	"net/http"
	"slices"
	"time"
)

// HeaderField is one header name with its values in insertion order.
type HeaderField struct {
	Name   string
	Values []string
}

// Headers is an ordered header mapping. Names are compared case-sensitively
// and duplicate values keep their order.
type Headers []HeaderField

// Values returns the values stored under name, or nil.
func (h Headers) Values(name string) []string {
	for _, f := range h {
		if f.Name == name {
			return f.Values
		}
	}
	return nil
}

// First returns the first value stored under name.
func (h Headers) First(name string) (string, bool) {
	vals := h.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Add appends value under name, keeping the position of an existing field.
func (h Headers) Add(name, value string) Headers {
	out := h.Clone()
	for i := range out {
		if out[i].Name == name {
			out[i].Values = append(out[i].Values, value)
			return out
		}
	}
	return append(out, HeaderField{Name: name, Values: []string{value}})
}

// Without returns a copy of h with the field called name removed.
func (h Headers) Without(name string) Headers {
	out := make(Headers, 0, len(h))
	for _, f := range h {
		if f.Name == name {
			continue
		}
		out = append(out, HeaderField{Name: f.Name, Values: slices.Clone(f.Values)})
	}
	return out
}

// Clone returns a deep copy of h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for i, f := range h {
		out[i] = HeaderField{Name: f.Name, Values: slices.Clone(f.Values)}
	}
	return out
}

// HTTP converts h to an http.Header. Names are stored verbatim, not canonicalized.
func (h Headers) HTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out[f.Name] = append(out[f.Name], f.Values...)
	}
	return out
}

// Request is an outgoing call. It is immutable: the constructor and the With
// methods copy their inputs, and accessors return copies.
type Request struct {
	method  string
	url     string
	header  Headers
	body    []byte
	charset string
}

// NewRequest creates a Request.
func NewRequest(method, url string, header Headers, body []byte, charset string) *Request {
	return &Request{
		method:  method,
		url:     url,
		header:  header.Clone(),
		body:    slices.Clone(body),
		charset: charset,
	}
}

func (r *Request) Method() string   { return r.method }
func (r *Request) URL() string      { return r.url }
func (r *Request) Headers() Headers { return r.header.Clone() }
func (r *Request) Body() []byte     { return slices.Clone(r.body) }
func (r *Request) Charset() string  { return r.charset }

// WithURL returns a copy of r targeting url.
func (r *Request) WithURL(url string) *Request {
	return NewRequest(r.method, url, r.header, r.body, r.charset)
}

// WithHeaders returns a copy of r with its header set replaced.
func (r *Request) WithHeaders(h Headers) *Request {
	return NewRequest(r.method, r.url, h, r.body, r.charset)
}

func (r *Request) String() string {
	return r.method + " " + r.url
}

// Options tunes a single Execute call.
type Options struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	FollowRedirects bool
}

// DefaultOptions mirrors the transport defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     60 * time.Second,
		FollowRedirects: true,
	}
}

// Response is the upstream response. The caller owns Body and must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
