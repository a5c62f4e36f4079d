package trends

import (
	"context"
	"errors"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrStubUnreachable is returned by an unreachable StubDialer.
var ErrStubUnreachable = errors.New("trends provider unreachable")

// StubDialer is an in-memory Dialer for tests. The zero value dials
// successfully and advertises no tools.
type StubDialer struct {
	mu sync.Mutex

	// DialErr, when set, makes every Dial fail.
	DialErr error

	// Descriptors advertised to every caller.
	Descriptors []Descriptor

	// Results maps tool name to canned result text.
	Results map[string]string

	// CallErr, when set, makes every Call fail.
	CallErr error

	// Slow, when set, makes Call block until the context is done.
	Slow bool

	dialedWith []string
	calls      []string
	closed     int
}

// Dial implements Dialer, recording the bearer it was handed.
func (d *StubDialer) Dial(_ context.Context, bearer string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	d.dialedWith = append(d.dialedWith, bearer)
	return &stubConn{dialer: d}, nil
}

// DialedWith returns the bearer tokens Dial has received.
func (d *StubDialer) DialedWith() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dialedWith))
	copy(out, d.dialedWith)
	return out
}

// Calls returns the tool names invoked so far.
func (d *StubDialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// Closed reports how many connections have been closed.
func (d *StubDialer) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type stubConn struct {
	dialer *StubDialer
}

func (c *stubConn) Tools(_ context.Context) ([]Descriptor, error) {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	out := make([]Descriptor, len(c.dialer.Descriptors))
	copy(out, c.dialer.Descriptors)
	return out, nil
}

func (c *stubConn) Call(ctx context.Context, name string, _ map[string]any) (string, error) {
	c.dialer.mu.Lock()
	c.dialer.calls = append(c.dialer.calls, name)
	slow := c.dialer.Slow
	callErr := c.dialer.CallErr
	result, ok := c.dialer.Results[name]
	c.dialer.mu.Unlock()

	if slow {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if callErr != nil {
		return "", callErr
	}
	if !ok {
		return "", errors.New("unknown tool: " + name)
	}
	return result, nil
}

func (c *stubConn) Close() error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.dialer.closed++
	return nil
}

// ObjectSchema returns a minimal object schema for stub descriptors.
func ObjectSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}
