// Package llm provides access to the chat completion model.
//
// The Generator interface abstracts one streamed model call; the agent loop
// drives it repeatedly. Providers map their own failure vocabulary onto the
// two sentinels here so the rest of the system never inspects provider
// errors.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrRateLimited indicates the provider rejected the call for quota.
	ErrRateLimited = errors.New("model rate limited")

	// ErrModelUnavailable indicates the model call failed for any other
	// reason. Details stay in the wrapped error for server logs.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Message roles in the provider wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the model's context window.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the model's request to invoke a tool. Arguments is the raw
// JSON argument object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a tool offered to the model. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one model call: the full context window plus the tools the
// model may invoke this turn.
type Request struct {
	Messages []Message
	Tools    []ToolDef
}

// Completion is the accumulated result of one streamed model call. Content
// holds the full text; ToolCalls is non-empty when the model chose to act
// instead of (or in addition to) answering.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Generator runs one streamed model call. onToken is invoked for every
// content delta in arrival order before Stream returns; implementations must
// not call it concurrently.
type Generator interface {
	Stream(ctx context.Context, req Request, onToken func(token string)) (*Completion, error)
}
