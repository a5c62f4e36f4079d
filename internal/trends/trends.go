// Package trends connects to the remote trends tool provider over the Model
// Context Protocol.
//
// The provider is multi-tenant: every connection carries the caller's own
// bearer credential, so discovery and invocation happen per request, never
// from a shared session.
package trends

import (
	"context"
)

// Descriptor describes one remote tool as advertised by the provider.
// InputSchema is the argument schema exactly as the provider sent it: a
// *jsonschema.Schema for in-process providers, a decoded JSON object over the
// wire. Consumers marshal it back to JSON rather than assuming a type.
type Descriptor struct {
	Name        string
	Description string
	InputSchema any
}

// Conn is one live connection to the provider, scoped to a single caller's
// credential. Callers must Close it when the request ends.
type Conn interface {
	// Tools lists the tools the provider advertises to this caller.
	Tools(ctx context.Context) ([]Descriptor, error)

	// Call invokes a remote tool and returns its textual result. A
	// provider-reported tool failure is returned as an error.
	Call(ctx context.Context, name string, args map[string]any) (string, error)

	Close() error
}

// Dialer opens provider connections. bearer is the caller's raw credential,
// forwarded verbatim so the provider applies its own authorization.
type Dialer interface {
	Dial(ctx context.Context, bearer string) (Conn, error)
}
