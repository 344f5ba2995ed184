package endpoint

import (
	"errors"
	"testing"

	"github.com/alecthomas/types/optional"
)

func TestDecide(t *testing.T) {
	none := optional.None[Endpoint]()
	some := func(s string) optional.Option[Endpoint] { return optional.Some(Endpoint(s)) }

	tests := []struct {
		name       string
		header     optional.Option[Endpoint]
		context    optional.Option[Endpoint]
		want       string
		wantOK     bool
		wantSource Source
	}{
		{"neither", none, none, "", false, SourceNone},
		{"header only", some("a:1"), none, "a:1", true, SourceHeader},
		{"context only", none, some("b:2"), "b:2", true, SourceContext},
		{"header wins over context", some("A"), some("B"), "A", true, SourceHeader},
		{"blank header falls to context", some("  "), some("B"), "B", true, SourceContext},
		{"blank context is none", none, some(""), "", false, SourceNone},
		{"both blank", some(""), some(" "), "", false, SourceNone},
		{"header trimmed", some(" a:1 "), none, "a:1", true, SourceHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.header, tt.context)
			got, ok := d.Endpoint.Get()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if string(got) != tt.want {
				t.Errorf("endpoint = %q, want %q", got, tt.want)
			}
			if d.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", d.Source, tt.wantSource)
			}

			r, rok := Resolve(tt.header, tt.context).Get()
			if rok != ok || r != got {
				t.Errorf("Resolve() = (%q, %v), want (%q, %v)", r, rok, got, ok)
			}
		})
	}
}

func TestFromString(t *testing.T) {
	if _, ok := FromString("   ").Get(); ok {
		t.Error("FromString(blank) should be None")
	}
	ep, ok := FromString(" localhost:9001 ").Get()
	if !ok || ep != "localhost:9001" {
		t.Errorf("FromString() = (%q, %v), want (%q, true)", ep, ok, "localhost:9001")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"localhost", false},
		{"localhost:9001", false},
		{"10.0.0.1:80", false},
		{"[::1]:8080", false},
		{"[::1]", false},
		{"", true},
		{"   ", true},
		{"http://localhost:9001", true},
		{"localhost:9001/path", true},
		{"user@localhost", true},
		{"localhost:-1", true},
		{"localhost:70000", true},
		{"localhost:", true},
		{":8080", true},
		{"::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalid", tt.in, err)
			}
		})
	}
}
