package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/trends"
)

// Toolset is the set of tools available to one request. Close releases the
// remote connection, if any; it is safe to call on any Toolset.
type Toolset struct {
	Tools []Tool

	// Degraded reports that the remote toolset was configured but could not
	// be reached; local tools are still present.
	Degraded bool

	closeFn func() error
}

// Close releases resources held by the toolset.
func (ts *Toolset) Close() error {
	if ts.closeFn == nil {
		return nil
	}
	return ts.closeFn()
}

// Registry resolves the toolset for each request. Local tools are fixed at
// construction; the remote toolset is discovered per request because its
// contents depend on the caller's credential.
type Registry struct {
	local            []Tool
	dialer           trends.Dialer
	discoveryTimeout time.Duration
	logger           log.Logger
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Local tools always offered (may be empty).
	Local []Tool

	// Dialer for the remote toolset; nil disables it entirely.
	Dialer trends.Dialer

	// DiscoveryTimeout bounds remote discovery per request.
	DiscoveryTimeout time.Duration

	Logger log.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	timeout := cfg.DiscoveryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		local:            cfg.Local,
		dialer:           cfg.Dialer,
		discoveryTimeout: timeout,
		logger:           logger.With("component", "tools"),
	}
}

// Resolve assembles the toolset for one request. Remote failures never fail
// the request: the toolset degrades to local-only and reports it. The raw
// credential is forwarded to the provider and nowhere else.
//
// The provider session must outlive discovery: tool calls arrive later in the
// turn, so the connection runs under the request context and ends with
// Toolset.Close. Only the handshake and the tool listing are bounded by the
// discovery timeout.
func (r *Registry) Resolve(ctx context.Context, rawCredential string) *Toolset {
	ts := &Toolset{Tools: append([]Tool(nil), r.local...)}

	if r.dialer == nil {
		return ts
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	conn, err := r.dial(sessionCtx, cancel, rawCredential)
	if err != nil {
		cancel()
		r.logger.Warn("trends provider unreachable, continuing with local tools", "error", err)
		ts.Degraded = true
		return ts
	}

	listCtx, listCancel := context.WithTimeout(ctx, r.discoveryTimeout)
	defer listCancel()

	descs, err := conn.Tools(listCtx)
	if err != nil {
		r.logger.Warn("trends discovery failed, continuing with local tools", "error", err)
		_ = conn.Close()
		cancel()
		ts.Degraded = true
		return ts
	}

	for _, desc := range descs {
		params, err := marshalSchema(desc.InputSchema)
		if err != nil {
			r.logger.Warn("skipping remote tool with unusable schema", "tool", desc.Name, "error", err)
			continue
		}
		name := desc.Name
		ts.Tools = append(ts.Tools, Tool{
			Name:        name,
			Description: desc.Description,
			Parameters:  params,
			Call: func(callCtx context.Context, args map[string]any) (string, error) {
				return conn.Call(callCtx, name, args)
			},
		})
	}
	ts.closeFn = func() error {
		err := conn.Close()
		cancel()
		return err
	}

	r.logger.Debug("toolset resolved", "local", len(r.local), "remote", len(descs))
	return ts
}

// dial opens the provider connection with the handshake bounded by the
// discovery timeout. The timeout applies to the handshake only, never to the
// session: ctx stays alive for the connection's lifetime. An overrunning
// handshake is abandoned by canceling the session context; a connection that
// arrives late is closed.
func (r *Registry) dial(ctx context.Context, cancel context.CancelFunc, rawCredential string) (trends.Conn, error) {
	type result struct {
		conn trends.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := r.dialer.Dial(ctx, rawCredential)
		ch <- result{conn, err}
	}()

	timer := time.NewTimer(r.discoveryTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-timer.C:
		cancel()
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("trends dial timed out after %s", r.discoveryTimeout)
	}
}
