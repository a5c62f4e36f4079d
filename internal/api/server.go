// Package api exposes the HTTP surface: the streaming chat endpoint, the
// conversation listing endpoints, and health probes.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsechat/pulse/internal/agent"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/store"
	"github.com/pulsechat/pulse/internal/tools"
)

// ConversationStore is the persistence the API needs.
type ConversationStore interface {
	Append(ctx context.Context, msg store.Message) error
	Messages(ctx context.Context, ownerID string, conversationID uuid.UUID) ([]store.Message, error)
	Conversations(ctx context.Context, ownerID string) ([]store.ConversationSummary, error)
}

// ToolResolver assembles the per-request toolset.
type ToolResolver interface {
	Resolve(ctx context.Context, rawCredential string) *tools.Toolset
}

// TurnRunner executes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, emit func(agent.Event)) (string, error)
}

// Pinger reports backing-store health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger log.Logger

	Store    ConversationStore // Required
	Tools    ToolResolver      // Required
	Agent    TurnRunner        // Required
	Verifier auth.Verifier     // Required

	Readiness Pinger // Optional: nil makes /ready report ok unconditionally

	CORSOrigins []string
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst   int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool resolver is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("turn runner is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("credential verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		logger: logger,
		store:  cfg.Store,
		tools:  cfg.Tools,
		agent:  cfg.Agent,
	}
	lh := &listHandler{logger: logger, store: cfg.Store}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/send", ch.send)
	mux.HandleFunc("GET /chat/conversations", lh.conversations)
	mux.HandleFunc("GET /chat/conversations/{id}/messages", lh.messages)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers. Auth is innermost: everything behind it requires
	// a valid credential (health probes bypass the stack entirely).
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Verifier, nil, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to separate health probes from middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", healthHandler(logger))
	topMux.Handle("GET /ready", readinessHandler(cfg.Readiness, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
