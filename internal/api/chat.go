package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pulsechat/pulse/internal/agent"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/llm"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/store"
)

// SSE event types for chat streaming.
const (
	EventToken     = "token"      // Partial assistant text
	EventToolStart = "tool_start" // Tool invocation began
	EventToolEnd   = "tool_end"   // Tool invocation finished
	EventStatus    = "status"     // Advisory condition (e.g. degraded toolset)
	EventDone      = "done"       // Turn completed successfully (terminal)
	EventError     = "error"      // Turn failed (terminal)
)

// degradedToolsMessage is streamed when the remote toolset could not be
// reached and the turn continues with local tools only.
const degradedToolsMessage = "trends tools unavailable, continuing without them"

// TokenPayload is the SSE data payload for streamed text.
type TokenPayload struct {
	Content string `json:"content"`
}

// ToolStartPayload announces a tool invocation.
type ToolStartPayload struct {
	Tool string `json:"tool"`
}

// ToolEndPayload closes a tool invocation.
type ToolEndPayload struct {
	Tool string `json:"tool"`
	OK   bool   `json:"ok"`
}

// StatusPayload carries advisory messages that are not assistant text.
type StatusPayload struct {
	Message string `json:"message"`
}

// DonePayload is the terminal payload of a successful turn.
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload is the terminal payload of a failed turn.
type ErrorPayload struct {
	Message string `json:"message"`
}

// sendRequest is the body of POST /chat/send.
type sendRequest struct {
	Message        string     `json:"message"`
	ConversationID *uuid.UUID `json:"conversation_id"`
}

type chatHandler struct {
	logger log.Logger
	store  ConversationStore
	tools  ToolResolver
	agent  TurnRunner
}

// send runs one conversational turn over SSE.
//
// Order of operations: validate → mint conversation id → load history →
// persist user message → resolve tools → stream the loop → persist
// assistant text → terminal frame. Validation failures are plain JSON
// errors; once streaming starts, failures become terminal error frames.
// Exactly one terminal frame is written per stream.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", h.logger)
		return
	}

	var req sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024) // Limit request size to 1MB
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required", h.logger)
		return
	}

	conversationID := uuid.New()
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	}

	ctx := r.Context()

	// History excludes the new user message; the loop appends it itself.
	history, err := h.store.Messages(ctx, principal.ID, conversationID)
	if err != nil {
		h.logger.Error("loading history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation", h.logger)
		return
	}

	// The user message is durable before the model runs: a model failure
	// must never lose user input.
	if err := h.store.Append(ctx, store.Message{
		ConversationID: conversationID,
		OwnerID:        principal.ID,
		Role:           store.RoleUser,
		Content:        req.Message,
	}); err != nil {
		h.logger.Error("persisting user message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save message", h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	credential, _ := auth.CredentialFromContext(ctx)
	toolset := h.tools.Resolve(ctx, credential)
	defer func() {
		if err := toolset.Close(); err != nil {
			h.logger.Debug("closing toolset", "error", err)
		}
	}()

	if toolset.Degraded {
		_ = writeEvent(w, flusher, EventStatus, StatusPayload{Message: degradedToolsMessage})
	}

	requestID, _ := requestIDFromContext(ctx)
	h.logger.Debug("turn started",
		"request_id", requestID,
		"conversation_id", conversationID,
		"tools", len(toolset.Tools),
		"degraded", toolset.Degraded,
	)

	finalText, runErr := h.agent.Run(ctx, agent.Turn{
		History:     toHistory(history),
		UserMessage: req.Message,
		Tools:       toolset.Tools,
	}, func(e agent.Event) {
		switch e.Kind {
		case agent.EventToken:
			_ = writeEvent(w, flusher, EventToken, TokenPayload{Content: e.Token})
		case agent.EventToolStart:
			_ = writeEvent(w, flusher, EventToolStart, ToolStartPayload{Tool: e.Tool})
		case agent.EventToolEnd:
			_ = writeEvent(w, flusher, EventToolEnd, ToolEndPayload{Tool: e.Tool, OK: e.OK})
		}
	})

	if runErr != nil {
		// Client gone: no terminal frame can reach anyone.
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "request_id", requestID, "conversation_id", conversationID)
			return
		}
		h.logger.Error("turn failed", "request_id", requestID, "error", runErr)
		h.writeStreamError(w, flusher, runErr)
		return
	}

	// Assistant text persists only for completed turns; a failed persist is
	// a failed turn, never a silent success.
	if err := h.store.Append(ctx, store.Message{
		ConversationID: conversationID,
		OwnerID:        principal.ID,
		Role:           store.RoleAssistant,
		Content:        finalText,
	}); err != nil {
		h.logger.Error("persisting assistant message", "error", err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Message: "failed to save response"})
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{ConversationID: conversationID.String()})
	h.logger.Debug("turn completed", "request_id", requestID, "conversation_id", conversationID)
}

// writeStreamError maps turn failures to the single terminal error frame.
// Provider details never reach the client.
func (h *chatHandler) writeStreamError(w io.Writer, f http.Flusher, err error) {
	message := "the assistant is temporarily unavailable, please try again"
	if errors.Is(err, llm.ErrRateLimited) {
		message = "the assistant is receiving too many requests, please try again shortly"
	}
	_ = writeEvent(w, f, EventError, ErrorPayload{Message: message})
}

// toHistory converts stored messages into the model context window.
func toHistory(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		switch m.Role {
		case store.RoleAssistant:
			role = llm.RoleAssistant
		case store.RoleSystem:
			role = llm.RoleSystem
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
