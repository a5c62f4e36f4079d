package trends

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDialer dials the provider over MCP streamable HTTP.
type MCPDialer struct {
	url     string
	version string
}

// NewMCPDialer creates a dialer for the given streamable HTTP endpoint.
func NewMCPDialer(url, version string) *MCPDialer {
	return &MCPDialer{url: url, version: version}
}

// Dial opens an MCP session authenticated as the caller.
func (d *MCPDialer) Dial(ctx context.Context, bearer string) (Conn, error) {
	transport := &mcp.StreamableClientTransport{
		Endpoint: d.url,
		HTTPClient: &http.Client{
			Transport: &bearerRoundTripper{token: bearer, base: http.DefaultTransport},
		},
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "pulse",
		Version: d.version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to trends provider: %w", err)
	}
	return &sessionConn{session: session}, nil
}

// bearerRoundTripper injects the caller's credential into every request of
// the MCP session.
type bearerRoundTripper struct {
	token string
	base  http.RoundTripper
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

// sessionConn adapts an SDK client session to the Conn interface.
type sessionConn struct {
	session *mcp.ClientSession
}

// NewSessionConn wraps an established MCP client session.
func NewSessionConn(session *mcp.ClientSession) Conn {
	return &sessionConn{session: session}
}

func (c *sessionConn) Tools(ctx context.Context) ([]Descriptor, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing trends tools: %w", err)
	}

	descs := make([]Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		descs = append(descs, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return descs, nil
}

func (c *sessionConn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling trends tool %q: %w", name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	joined := strings.Join(parts, "\n")

	if result.IsError {
		if joined == "" {
			joined = "tool reported an error"
		}
		return "", fmt.Errorf("trends tool %q failed: %s", name, joined)
	}
	return joined, nil
}

func (c *sessionConn) Close() error {
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("closing trends session: %w", err)
	}
	return nil
}
