package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pulsechat/pulse/internal/llm"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/tools"
)

func newTestAgent(t *testing.T, gen llm.Generator, opts ...func(*Config)) *Agent {
	t.Helper()
	cfg := Config{Generator: gen, Logger: log.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func echoTool(name string, out string, err error) tools.Tool {
	return tools.Tool{
		Name:       name,
		Parameters: json.RawMessage(`{"type":"object"}`),
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			return out, err
		},
	}
}

func collectEvents() (func(Event), *[]Event) {
	var events []Event
	return func(e Event) { events = append(events, e) }, &events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestNewRequiresGenerator(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("New() error = %v, want ErrNoGenerator", err)
	}
}

func TestRunDirectAnswer(t *testing.T) {
	mock := llm.NewMock(llm.MockStep{Tokens: []string{"Hello ", "world"}})
	a := newTestAgent(t, mock)

	emit, events := collectEvents()
	got, err := a.Run(context.Background(), Turn{
		History:     []llm.Message{{Role: llm.RoleUser, Content: "earlier"}, {Role: llm.RoleAssistant, Content: "reply"}},
		UserMessage: "say hello",
		Tools:       []tools.Tool{echoTool("web_search", "unused", nil)},
	}, emit)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "Hello world" {
		t.Errorf("Run() = %q, want %q", got, "Hello world")
	}

	// Only token events for a general-knowledge answer: no tool frames.
	for _, e := range *events {
		if e.Kind != EventToken {
			t.Errorf("unexpected %s event for direct answer", e.Kind)
		}
	}

	// The model saw the full context window: system, history, then the
	// new user message.
	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("model called %d times, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("messages[0].Role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "earlier" || msgs[2].Content != "reply" {
		t.Errorf("history not forwarded in order: %+v", msgs[1:3])
	}
	if last := msgs[len(msgs)-1]; last.Role != llm.RoleUser || last.Content != "say hello" {
		t.Errorf("last message = %+v, want the new user message", last)
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Name != "web_search" {
		t.Errorf("tools = %+v, want web_search offered", reqs[0].Tools)
	}
}

func TestRunToolCallThenAnswer(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "web_search", Arguments: `{"query":"go"}`}}},
		llm.MockStep{Tokens: []string{"found it"}},
	)
	var gotArgs map[string]any
	search := tools.Tool{
		Name:       "web_search",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			gotArgs = args
			return "search says hi", nil
		},
	}
	a := newTestAgent(t, mock)

	emit, events := collectEvents()
	got, err := a.Run(context.Background(), Turn{UserMessage: "search go", Tools: []tools.Tool{search}}, emit)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "found it" {
		t.Errorf("Run() = %q, want final answer", got)
	}
	if gotArgs["query"] != "go" {
		t.Errorf("tool args = %v, want parsed model arguments", gotArgs)
	}

	wantKinds := []EventKind{EventToolStart, EventToolEnd, EventToken}
	gotKinds := kinds(*events)
	if len(gotKinds) != len(wantKinds) {
		t.Fatalf("events = %v, want %v", gotKinds, wantKinds)
	}
	for i := range wantKinds {
		if gotKinds[i] != wantKinds[i] {
			t.Errorf("event[%d] = %s, want %s", i, gotKinds[i], wantKinds[i])
		}
	}
	if e := (*events)[1]; !e.OK || e.Tool != "web_search" {
		t.Errorf("tool_end = %+v, want ok for web_search", e)
	}

	// Second model call carries the observation bound to the call id.
	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("model called %d times, want 2", len(reqs))
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" || last.Content != "search says hi" {
		t.Errorf("observation message = %+v", last)
	}
}

func TestRunToolFailureNonFatal(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "web_search", Arguments: `{}`}}},
		llm.MockStep{Tokens: []string{"best effort answer"}},
	)
	failing := echoTool("web_search", "", errors.New("connection refused"))
	a := newTestAgent(t, mock)

	emit, events := collectEvents()
	got, err := a.Run(context.Background(), Turn{UserMessage: "q", Tools: []tools.Tool{failing}}, emit)
	if err != nil {
		t.Fatalf("Run() error = %v, tool failure must not fail the turn", err)
	}
	if got != "best effort answer" {
		t.Errorf("Run() = %q, want the model's fallback answer", got)
	}

	var sawFailedEnd bool
	for _, e := range *events {
		if e.Kind == EventToolEnd && !e.OK {
			sawFailedEnd = true
		}
	}
	if !sawFailedEnd {
		t.Error("no tool_end with ok=false after tool failure")
	}

	// The model got a synthesized unavailability observation.
	reqs := mock.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, "unavailable") {
		t.Errorf("observation = %+v, want unavailability note", last)
	}
}

func TestRunUnknownTool(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "no_such_tool"}}},
		llm.MockStep{Tokens: []string{"ok"}},
	)
	a := newTestAgent(t, mock)

	emit, events := collectEvents()
	got, err := a.Run(context.Background(), Turn{UserMessage: "q"}, emit)
	if err != nil {
		t.Fatalf("Run() error = %v, unknown tool must degrade not fail", err)
	}
	if got != "ok" {
		t.Errorf("Run() = %q, want continuation", got)
	}
	if e := (*events)[1]; e.Kind != EventToolEnd || e.OK {
		t.Errorf("event[1] = %+v, want failed tool_end", e)
	}
}

func TestRunCeiling(t *testing.T) {
	// The model insists on tools forever; the loop must stop at the
	// ceiling and surface partial text plus an incompleteness note.
	loopStep := llm.MockStep{
		Tokens:    []string{"thinking... "},
		ToolCalls: []llm.ToolCall{{ID: "c", Name: "web_search", Arguments: `{}`}},
	}
	mock := llm.NewMock(loopStep, loopStep, loopStep)
	a := newTestAgent(t, mock, func(c *Config) { c.MaxTurns = 3 })

	emit, events := collectEvents()
	got, err := a.Run(context.Background(), Turn{
		UserMessage: "q",
		Tools:       []tools.Tool{echoTool("web_search", "data", nil)},
	}, emit)
	if err != nil {
		t.Fatalf("Run() error = %v, ceiling is not an error", err)
	}
	if !strings.Contains(got, "thinking... ") || !strings.HasSuffix(got, incompleteNote) {
		t.Errorf("Run() = %q, want partial text plus incompleteness note", got)
	}
	if len(mock.Requests()) != 3 {
		t.Errorf("model called %d times, want exactly MaxTurns", len(mock.Requests()))
	}

	lastEvent := (*events)[len(*events)-1]
	if lastEvent.Kind != EventToken || lastEvent.Token != incompleteNote {
		t.Errorf("last event = %+v, want the note streamed as a token", lastEvent)
	}
}

func TestRunModelError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited", llm.ErrRateLimited},
		{"unavailable", llm.ErrModelUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMock(llm.MockStep{Err: tt.err})
			a := newTestAgent(t, mock)

			_, err := a.Run(context.Background(), Turn{UserMessage: "q"}, func(Event) {})
			if !errors.Is(err, tt.err) {
				t.Fatalf("Run() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestRunToolTimeout(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "slow", Arguments: `{}`}}},
		llm.MockStep{Tokens: []string{"answered without it"}},
	)
	slow := tools.Tool{
		Name:       "slow",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	a := newTestAgent(t, mock, func(c *Config) { c.ToolTimeout = 20 * time.Millisecond })

	start := time.Now()
	got, err := a.Run(context.Background(), Turn{UserMessage: "q", Tools: []tools.Tool{slow}}, func(Event) {})
	if err != nil {
		t.Fatalf("Run() error = %v, timeout must not fail the turn", err)
	}
	if got != "answered without it" {
		t.Errorf("Run() = %q", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v, want bounded by tool timeout", elapsed)
	}
}

func TestRunParallelCallsTakesFirst(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "first", Arguments: `{}`},
			{ID: "c2", Name: "second", Arguments: `{}`},
		}},
		llm.MockStep{Tokens: []string{"done"}},
	)
	var calls []string
	record := func(name string) tools.Tool {
		return tools.Tool{
			Name:       name,
			Parameters: json.RawMessage(`{"type":"object"}`),
			Call: func(ctx context.Context, args map[string]any) (string, error) {
				calls = append(calls, name)
				return "r", nil
			},
		}
	}
	a := newTestAgent(t, mock)

	if _, err := a.Run(context.Background(), Turn{
		UserMessage: "q",
		Tools:       []tools.Tool{record("first"), record("second")},
	}, func(Event) {}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("invoked tools = %v, want only the first call", calls)
	}
}

func TestRunCanceledDuringTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "hang", Arguments: `{}`}}},
	)
	hang := tools.Tool{
		Name:       "hang",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			cancel() // simulate client disconnect mid-call
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	a := newTestAgent(t, mock)

	_, err := a.Run(ctx, Turn{UserMessage: "q", Tools: []tools.Tool{hang}}, func(Event) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(mock.Requests()) != 1 {
		t.Errorf("model called %d times after cancel, want 1", len(mock.Requests()))
	}
}
