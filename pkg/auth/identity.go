// Package auth provides bearer-token authentication for the protected
// resource surface: a JWKS-backed JWT validator for externally issued tokens
// and the request-context plumbing both authentication paths converge on.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified identity attached to an authenticated request.
// It is request-scoped and never persisted.
type Identity struct {
	// Subject is the stable identifier of the authenticated principal.
	Subject string

	// SessionID is the issuer's session identifier ("sid" claim), if any.
	SessionID string

	// Name and Email are optional display claims.
	Name  string
	Email string

	// Claims holds the raw verified claims for downstream authorization
	// decisions.
	Claims map[string]any
}

// IdentityContextKey is the key used to store Identity in the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same name
// in different packages.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context.
// If identity is nil, the original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context.
// Returns the identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// claimsToIdentity converts verified JWT claims to an Identity.
// The 'sub' claim is required per OIDC Core 1.0 spec § 5.1.
func claimsToIdentity(claims jwt.MapClaims) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	identity := &Identity{
		Subject: sub,
		Claims:  claims,
	}

	// Extract optional standard claims
	if sid, ok := claims["sid"].(string); ok {
		identity.SessionID = sid
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}

	return identity, nil
}
