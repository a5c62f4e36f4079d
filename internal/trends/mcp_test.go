package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type trendQueryInput struct {
	Keyword string `json:"keyword"`
}

// newTrendsTestServer builds an in-process MCP server advertising one trends
// tool.
func newTrendsTestServer(t *testing.T) *mcp.Server {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-trends-provider",
		Version: "1.0.0",
	}, nil)

	schema, err := jsonschema.For[trendQueryInput](nil)
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "interest_over_time",
		Description: "Interest over time for a keyword",
		InputSchema: schema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input trendQueryInput) (*mcp.CallToolResult, any, error) {
		if input.Keyword == "boom" {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "upstream quota exceeded"}},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "rising: " + input.Keyword}},
		}, nil, nil
	})
	return server
}

// connectTestProvider connects a client session to the test provider over
// in-memory transports and returns it wrapped as a Conn.
func connectTestProvider(t *testing.T) Conn {
	t.Helper()

	server := newTrendsTestServer(t)
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() error: %v", err)
	}

	conn := NewSessionConn(clientSession)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSessionConnTools(t *testing.T) {
	conn := connectTestProvider(t)

	descs, err := conn.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("Tools() returned %d descriptors, want 1", len(descs))
	}
	if descs[0].Name != "interest_over_time" {
		t.Errorf("name = %q, want interest_over_time", descs[0].Name)
	}
	if descs[0].Description == "" {
		t.Error("descriptor has empty description")
	}
	if descs[0].InputSchema == nil {
		t.Error("descriptor has nil input schema")
	}
}

func TestSessionConnCall(t *testing.T) {
	conn := connectTestProvider(t)

	got, err := conn.Call(context.Background(), "interest_over_time", map[string]any{"keyword": "golang"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "rising: golang" {
		t.Errorf("Call() = %q, want %q", got, "rising: golang")
	}
}

func TestSessionConnCallToolError(t *testing.T) {
	conn := connectTestProvider(t)

	_, err := conn.Call(context.Background(), "interest_over_time", map[string]any{"keyword": "boom"})
	if err == nil {
		t.Fatal("Call() expected error for IsError result")
	}
	if !strings.Contains(err.Error(), "upstream quota exceeded") {
		t.Errorf("Call() error = %v, want provider text included", err)
	}
}

func TestSessionConnCallUnknownTool(t *testing.T) {
	conn := connectTestProvider(t)

	if _, err := conn.Call(context.Background(), "no_such_tool", nil); err == nil {
		t.Fatal("Call() expected error for unknown tool")
	}
}

// recordingTripper captures the outgoing request instead of sending it.
type recordingTripper struct {
	got *http.Request
}

func (rt *recordingTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.got = req
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       http.NoBody,
		Header:     http.Header{},
	}, nil
}

// TestMCPDialerStreamableHTTP exercises the real dialer against a provider
// served over streamable HTTP, the transport production uses. Unlike the
// in-memory tests this covers Dial itself, the wire shape of descriptor
// schemas, and bearer forwarding on every request of the session.
func TestMCPDialerStreamableHTTP(t *testing.T) {
	server := newTrendsTestServer(t)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	var mu sync.Mutex
	var bearers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		bearers = append(bearers, r.Header.Get("Authorization"))
		mu.Unlock()
		mcpHandler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	dialer := NewMCPDialer(srv.URL, "test")
	conn, err := dialer.Dial(context.Background(), "caller-token")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	descs, err := conn.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "interest_over_time" {
		t.Fatalf("Tools() = %+v, want interest_over_time", descs)
	}
	if descs[0].InputSchema == nil {
		t.Error("descriptor schema lost over the wire")
	}

	got, err := conn.Call(context.Background(), "interest_over_time", map[string]any{"keyword": "golang"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "rising: golang" {
		t.Errorf("Call() = %q, want %q", got, "rising: golang")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bearers) == 0 {
		t.Fatal("provider saw no requests")
	}
	for i, b := range bearers {
		if b != "Bearer caller-token" {
			t.Errorf("request[%d] Authorization = %q, want forwarded bearer", i, b)
		}
	}
}

func TestBearerRoundTripper(t *testing.T) {
	recorder := &recordingTripper{}
	rt := &bearerRoundTripper{token: "caller-token", base: recorder}

	req, err := http.NewRequest(http.MethodPost, "http://trends.example.com/mcp", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}

	if got := recorder.got.Header.Get("Authorization"); got != "Bearer caller-token" {
		t.Errorf("Authorization = %q, want forwarded bearer", got)
	}
	// The original request must not be mutated.
	if req.Header.Get("Authorization") != "" {
		t.Error("RoundTrip mutated the original request")
	}
}
