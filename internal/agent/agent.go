// Package agent drives the bounded reason/act/observe loop for one
// conversational turn.
//
// Each iteration streams one model call. If the model answers in plain text
// the turn is complete; if it requests a tool, the call is executed under a
// per-call timeout and its observation is appended to the context for the
// next iteration. The loop never exceeds its turn ceiling and a failed tool
// never fails the turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulsechat/pulse/internal/llm"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/tools"
)

// ErrNoGenerator indicates the agent was constructed without a model.
var ErrNoGenerator = errors.New("agent requires a generator")

// incompleteNote is appended when the turn ceiling is reached before the
// model produced a final answer.
const incompleteNote = "\n\n[I reached my tool-use limit before finishing. The answer above may be incomplete.]"

// Config configures an Agent.
type Config struct {
	Generator llm.Generator

	// MaxTurns caps model calls per turn. Default 5.
	MaxTurns int

	// ToolTimeout bounds each tool invocation. Default 30s.
	ToolTimeout time.Duration

	Logger log.Logger
}

// Agent runs conversational turns against a fixed model with a per-request
// toolset.
type Agent struct {
	generator   llm.Generator
	maxTurns    int
	toolTimeout time.Duration
	logger      log.Logger
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Generator == nil {
		return nil, ErrNoGenerator
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{
		generator:   cfg.Generator,
		maxTurns:    cfg.MaxTurns,
		toolTimeout: cfg.ToolTimeout,
		logger:      logger.With("component", "agent"),
	}, nil
}

// Turn is the input of one conversational turn.
type Turn struct {
	// History is the prior conversation in chronological order.
	History []llm.Message

	// UserMessage is the new user input.
	UserMessage string

	// Tools available this turn.
	Tools []tools.Tool
}

// Run executes one turn and returns the final assistant text. Progress is
// reported through emit, called synchronously in causal order; Run never
// emits a terminal event — that is the caller's responsibility, so exactly
// one party owns stream termination.
//
// Model failures abort the turn with a sentinel error from the llm package.
// Tool failures do not: the model receives an unavailability observation and
// the loop continues.
func (a *Agent) Run(ctx context.Context, turn Turn, emit func(Event)) (string, error) {
	messages := make([]llm.Message, 0, len(turn.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, turn.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.UserMessage})

	byName := make(map[string]tools.Tool, len(turn.Tools))
	defs := make([]llm.ToolDef, 0, len(turn.Tools))
	for _, t := range turn.Tools {
		byName[t.Name] = t
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	var text strings.Builder

	for i := 0; i < a.maxTurns; i++ {
		completion, err := a.generator.Stream(ctx, llm.Request{Messages: messages, Tools: defs},
			func(token string) {
				text.WriteString(token)
				emit(Event{Kind: EventToken, Token: token})
			})
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}

		if len(completion.ToolCalls) == 0 {
			return text.String(), nil
		}

		// One Act per iteration keeps event ordering trivial. Extra calls
		// in the same completion are dropped, not queued.
		call := completion.ToolCalls[0]
		if len(completion.ToolCalls) > 1 {
			a.logger.Warn("model requested parallel tool calls, taking the first",
				"requested", len(completion.ToolCalls), "tool", call.Name)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: []llm.ToolCall{call},
		})

		emit(Event{Kind: EventToolStart, Tool: call.Name})
		observation, callErr := a.invoke(ctx, byName, call)
		if callErr != nil {
			// Client gone: stop immediately, the observation is worthless.
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			a.logger.Warn("tool call failed", "tool", call.Name, "error", callErr)
			observation = fmt.Sprintf("The tool %q is currently unavailable (%v). Answer with what you already know and mention what you could not verify.", call.Name, callErr)
		}
		emit(Event{Kind: EventToolEnd, Tool: call.Name, OK: callErr == nil})

		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    observation,
			ToolCallID: call.ID,
		})
	}

	// Ceiling reached without a final answer. Surface what we have plus an
	// explicit incompleteness marker, as streamed text like everything else.
	a.logger.Warn("turn ceiling reached", "max_turns", a.maxTurns)
	emit(Event{Kind: EventToken, Token: incompleteNote})
	text.WriteString(incompleteNote)
	return text.String(), nil
}

// invoke runs one tool call under the per-call timeout. The invocation runs
// in its own goroutine so an overrunning tool is abandoned rather than
// awaited; its context is canceled when we give up on it.
func (a *Agent) invoke(ctx context.Context, byName map[string]tools.Tool, call llm.ToolCall) (string, error) {
	tool, ok := byName[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := tool.Call(callCtx, args)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-callCtx.Done():
		return "", fmt.Errorf("tool %q: %w", call.Name, callCtx.Err())
	}
}
