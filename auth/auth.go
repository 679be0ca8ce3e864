// Package auth decides who a request is from.
//
// The Gate inspects each request for an API key or a signed session token and
// either attaches an immutable Principal to the request context or rejects the
// request. Rejections share one response shape; the reason is only visible in
// logs and metrics.
//
// Session tokens are HS256 JWTs issued by a Signer. They are accepted from the
// Authorization header as bearer tokens, or from the session cookie set at
// login.
package auth

import (
	"context"
	"slices"
	"time"

	"github.com/dpup/authcore/errors"
	"google.golang.org/grpc/codes"
)

const publicRejection = "authentication required"

var (
	// No credential was presented.
	ErrNoCredentials = errors.NewC("no authentication provided", codes.Unauthenticated).WithPublicMessage(publicRejection)

	// A credential was presented but could not be verified.
	ErrInvalidToken = errors.NewC("invalid authentication format", codes.Unauthenticated).WithPublicMessage(publicRejection)

	// The session was signed out before it expired.
	ErrRevoked = errors.NewC("token has been revoked", codes.Unauthenticated).WithPublicMessage(publicRejection)

	// Operation requires a principal of a different kind.
	ErrWrongCredential = errors.NewC("operation requires a session", codes.PermissionDenied)
)

// CredentialKind records how a principal authenticated.
type CredentialKind string

const (
	CredentialAnonymous CredentialKind = "anonymous"
	CredentialAPIKey    CredentialKind = "apikey"
	CredentialSession   CredentialKind = "session"
)

// Principal is the authenticated identity behind a request.
type Principal struct {
	UserID string
	Email  string
	Kind   CredentialKind

	// Set for API keys.
	KeyID  string
	Scopes []string

	// Set for sessions.
	SessionID string
	AuthTime  time.Time
}

// Anonymous reports whether the principal was admitted without credentials.
func (p Principal) Anonymous() bool {
	return p.Kind == CredentialAnonymous || p.UserID == ""
}

// HasScope reports whether an API key principal carries scope, either
// directly or through the "*" wildcard. Sessions carry every scope.
func (p Principal) HasScope(scope string) bool {
	if p.Kind == CredentialSession {
		return true
	}
	return slices.Contains(p.Scopes, "*") || slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal returns a context carrying a copy of p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	p.Scopes = slices.Clone(p.Scopes)
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request's principal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if ok {
		p.Scopes = slices.Clone(p.Scopes)
	}
	return p, ok
}

// RequirePrincipal returns the request's non-anonymous principal or
// ErrNoCredentials.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Anonymous() {
		return Principal{}, errors.Mark(ErrNoCredentials, 0)
	}
	return p, nil
}
