package oauth

import (
	"context"
	"errors"
	"time"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a code or token does not exist or has
	// expired. Callers must not be able to distinguish the two cases.
	ErrNotFound = errors.New("not found")
)

// AuthorizationCode is a single-use grant minted by the authorize endpoint
// and consumed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	ExpiresAt           time.Time
}

// AccessToken is a bearer credential for the protected resource surface.
type AccessToken struct {
	Token     string
	Subject   string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// RefreshToken is a long-lived credential that can mint new access tokens.
// It carries a reference to the access token it most recently minted so that
// revocation and refresh can cascade to it.
type RefreshToken struct {
	Token       string
	Subject     string
	ClientID    string
	Scope       string
	AccessToken string
}

// GrantStore persists authorization codes, access tokens, and refresh tokens.
//
// All lookups treat expired entries exactly like absent ones and return
// ErrNotFound. Implementations must be safe for concurrent use; ConsumeCode
// in particular must be a single atomic get-and-delete so that two concurrent
// exchanges of the same code can never both succeed.
type GrantStore interface {
	// PutCode stores an authorization code keyed by its code value.
	PutCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeCode atomically retrieves and deletes an authorization code.
	// The code is deleted even when it turns out to be expired, so a
	// replayed code can never succeed on a later attempt either.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// PutAccessToken stores an access token keyed by its token value.
	PutAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by its value.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// RevokeAccessToken deletes an access token. Revoking an unknown token
	// is a no-op.
	RevokeAccessToken(ctx context.Context, token string) error

	// PutRefreshToken stores a refresh token keyed by its token value.
	// Storing a token that already exists replaces it, which is how the
	// refresh grant re-links a new access token.
	PutRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by its value.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken deletes a refresh token and cascades to its
	// currently linked access token. Revoking an unknown token is a no-op.
	RevokeRefreshToken(ctx context.Context, token string) error
}
