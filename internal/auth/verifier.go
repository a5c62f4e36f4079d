package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Verifier validates a raw bearer credential and resolves the principal
// behind it. Validation is fully delegated; this service never inspects
// token contents locally.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// HTTPVerifier validates credentials against the auth provider's user
// endpoint (GET {base}/auth/v1/user).
type HTTPVerifier struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewHTTPVerifier creates a verifier for the given auth provider.
// serviceKey authenticates this service to the provider; the caller's
// credential travels in the Authorization header.
func NewHTTPVerifier(baseURL, serviceKey string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify resolves the principal for a bearer token. Any failure mode
// (provider rejection, network error, malformed response) returns
// ErrUnauthenticated; the wrapped detail is for server logs only.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: building request: %v", ErrUnauthenticated, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.serviceKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: auth provider unreachable: %v", ErrUnauthenticated, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, fmt.Errorf("%w: auth provider returned %d", ErrUnauthenticated, resp.StatusCode)
	}

	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return Principal{}, fmt.Errorf("%w: decoding auth response: %v", ErrUnauthenticated, err)
	}
	if user.ID == "" {
		return Principal{}, fmt.Errorf("%w: auth response missing user id", ErrUnauthenticated)
	}

	return Principal{ID: user.ID, Email: user.Email}, nil
}
