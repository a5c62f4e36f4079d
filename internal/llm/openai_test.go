package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// sseHandler replays the given data frames as an SSE response.
func sseHandler(t *testing.T, frames []string, capture *chatRequest) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, capture); err != nil {
				t.Errorf("decoding request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestClientStreamContent(t *testing.T) {
	var got chatRequest
	frames := []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}
	srv := httptest.NewServer(sseHandler(t, frames, &got))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o-mini"})

	var tokens []string
	completion, err := c.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if completion.Content != "Hello" {
		t.Errorf("content = %q, want %q", completion.Content, "Hello")
	}
	if want := []string{"Hel", "lo"}; len(tokens) != 2 || tokens[0] != want[0] || tokens[1] != want[1] {
		t.Errorf("tokens = %v, want %v", tokens, want)
	}
	if len(completion.ToolCalls) != 0 {
		t.Errorf("tool calls = %v, want none", completion.ToolCalls)
	}

	if !got.Stream {
		t.Error("request did not set stream: true")
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", got.Model)
	}
}

func TestClientStreamToolCallAccumulation(t *testing.T) {
	// Tool call id and name arrive in the first delta, arguments split
	// across subsequent deltas.
	frames := []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"golang\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	srv := httptest.NewServer(sseHandler(t, frames, nil))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	completion, err := c.Stream(context.Background(), Request{}, func(string) {})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if len(completion.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(completion.ToolCalls))
	}
	call := completion.ToolCalls[0]
	if call.ID != "call_1" {
		t.Errorf("id = %q, want call_1", call.ID)
	}
	if call.Name != "web_search" {
		t.Errorf("name = %q, want web_search", call.Name)
	}
	if call.Arguments != `{"query":"golang"}` {
		t.Errorf("arguments = %q, want accumulated JSON", call.Arguments)
	}
}

func TestClientStreamSendsTools(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(sseHandler(t, nil, &got))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := c.Stream(context.Background(), Request{
		Tools: []ToolDef{{
			Name:        "web_search",
			Description: "Search the web",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	}, func(string) {})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if len(got.Tools) != 1 {
		t.Fatalf("request carried %d tools, want 1", len(got.Tools))
	}
	if got.Tools[0].Type != "function" {
		t.Errorf("tool type = %q, want function", got.Tools[0].Type)
	}
	if got.Tools[0].Function.Name != "web_search" {
		t.Errorf("tool name = %q, want web_search", got.Tools[0].Function.Name)
	}
	if got.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", got.ToolChoice)
	}
}

func TestClientStreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrModelUnavailable},
		{"bad request", http.StatusBadRequest, ErrModelUnavailable},
		{"unauthorized", http.StatusUnauthorized, ErrModelUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
			_, err := c.Stream(context.Background(), Request{}, func(string) {})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Stream() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientStreamUnreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKey: "k", Model: "m"})
	_, err := c.Stream(context.Background(), Request{}, func(string) {})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Stream() error = %v, want ErrModelUnavailable", err)
	}
}

func TestClientStreamContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := c.Stream(ctx, Request{}, func(string) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v, want context.Canceled", err)
	}
}

func TestClientIgnoresNonDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	completion, err := c.Stream(context.Background(), Request{}, func(string) {})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if completion.Content != "ok" {
		t.Errorf("content = %q, want %q", completion.Content, "ok")
	}
}

func TestMockRecordsRequests(t *testing.T) {
	m := NewMock(MockStep{Tokens: []string{"a", "b"}})

	var tokens []string
	completion, err := m.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "remembered?"}},
	}, func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if completion.Content != "ab" {
		t.Errorf("content = %q, want ab", completion.Content)
	}
	reqs := m.Requests()
	if len(reqs) != 1 || reqs[0].Messages[0].Content != "remembered?" {
		t.Errorf("recorded requests = %+v, want the received request", reqs)
	}

	// Script exhausted: empty completion, no error.
	completion, err = m.Stream(context.Background(), Request{}, func(string) {})
	if err != nil || completion.Content != "" {
		t.Errorf("exhausted mock = (%v, %v), want empty completion", completion, err)
	}
}
