// Package auth implements the credential gate: bearer extraction, delegated
// validation against the external auth provider, and request annotation.
//
// The raw credential is held in the request context for the lifetime of the
// request only. It is never persisted and never logged.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated indicates the request carries no valid credential.
// All validation failure modes (missing, malformed, expired, revoked,
// provider rejection) collapse into this one error; callers never learn
// which occurred.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies the authenticated caller.
type Principal struct {
	ID    string
	Email string
}

type principalKey struct{}

type credentialKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithCredential returns a context carrying the raw bearer credential for
// forwarding to downstream tool providers.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

// CredentialFromContext returns the raw bearer credential, if any.
func CredentialFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(credentialKey{}).(string)
	return t, ok
}
