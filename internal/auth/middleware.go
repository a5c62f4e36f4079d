package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pulsechat/pulse/internal/log"
)

// Middleware enforces the credential gate on every route except the listed
// public paths. On success the request context carries the principal and the
// raw credential; on any failure the response is a uniform 401.
func Middleware(verifier Verifier, publicPaths []string, logger log.Logger) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					// Verifier implementations should collapse everything
					// into ErrUnauthenticated; treat strays the same way.
					logger.Warn("verifier returned non-sentinel error", "error", err)
				}
				// Log the failure mode, never the token.
				logger.Debug("credential rejected", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			ctx = WithCredential(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential from the Authorization header.
// Scheme matching is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
}
