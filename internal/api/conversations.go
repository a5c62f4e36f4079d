package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/store"
)

type listHandler struct {
	logger log.Logger
	store  ConversationStore
}

type conversationsResponse struct {
	Conversations []store.ConversationSummary `json:"conversations"`
}

type messagesResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []store.Message `json:"messages"`
}

// conversations lists the caller's conversations, most recent first.
func (h *listHandler) conversations(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", h.logger)
		return
	}

	summaries, err := h.store.Conversations(r.Context(), principal.ID)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations", h.logger)
		return
	}
	if summaries == nil {
		summaries = []store.ConversationSummary{}
	}

	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: summaries}, h.logger)
}

// messages lists one conversation's messages in order. A conversation the
// caller does not own yields an empty list, indistinguishable from one that
// does not exist.
func (h *listHandler) messages(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", h.logger)
		return
	}

	conversationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid conversation id", h.logger)
		return
	}

	msgs, err := h.store.Messages(r.Context(), principal.ID, conversationID)
	if err != nil {
		h.logger.Error("listing messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		ConversationID: conversationID.String(),
		Messages:       msgs,
	}, h.logger)
}
