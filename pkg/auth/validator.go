package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Common errors
var (
	ErrNoToken          = errors.New("no token provided")
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrMissingJWKSURL   = errors.New("missing JWKS URL")
	ErrMissingSubClaim  = errors.New("missing subject claim")
	ErrFailedFetchJWKS  = errors.New("failed to fetch JWKS")
	ErrUnexpectedMethod = errors.New("unexpected signing method")
)

// jwksFetchTimeout caps the outbound JWKS fetch so a slow issuer fails the
// request instead of hanging it.
const jwksFetchTimeout = 5 * time.Second

// Validator validates bearer JWTs against a remote JWKS document.
//
// The key set is fetched through a jwk.Cache, which serves the last known
// good key set while a refresh is in flight and collapses concurrent
// cache-miss fetches into a single outbound request. A fetch failure with no
// cached value fails validation; verification is never skipped.
type Validator struct {
	issuer     string
	audience   string
	jwksURL    string
	jwksClient *jwk.Cache

	// Lazy JWKS registration
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// ValidatorConfig contains configuration for the token validator.
type ValidatorConfig struct {
	// Issuer is the expected "iss" claim of presented tokens.
	Issuer string

	// Audience is the expected audience for the token. Optional.
	Audience string

	// JWKSURL is the URL to fetch the JWKS from.
	JWKSURL string

	// HTTPClient is the client used for JWKS fetches. Defaults to a client
	// with the fetch timeout applied.
	HTTPClient *http.Client
}

// NewValidator creates a new token validator.
func NewValidator(ctx context.Context, config ValidatorConfig) (*Validator, error) {
	if config.JWKSURL == "" {
		return nil, ErrMissingJWKSURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: jwksFetchTimeout}
	}

	// Create a new JWKS client with auto-refresh
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	// JWKS registration happens lazily on first use to avoid blocking startup.
	return &Validator{
		issuer:     config.Issuer,
		audience:   config.Audience,
		jwksURL:    config.JWKSURL,
		jwksClient: cache,
	}, nil
}

// ensureJWKSRegistered ensures that the JWKS URL is registered with the cache.
// This is called lazily on first use to avoid blocking startup.
func (v *Validator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	err := v.jwksClient.Register(registrationCtx, v.jwksURL)
	if err != nil {
		v.jwksRegistrationErr = fmt.Errorf("%w: %w", ErrFailedFetchJWKS, err)
	} else {
		v.jwksRegistrationErr = nil
	}

	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// getKeyFromJWKS resolves the verification key for a parsed-but-unverified
// token header. Only RS256-family keys are accepted; the algorithm claimed
// inside the token is never trusted beyond that check.
func (v *Validator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (interface{}, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedMethod, token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

// validateClaims validates the claims in the token.
func (v *Validator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSpace(issuerClaim) != strings.TrimSpace(v.issuer) {
			return ErrInvalidIssuer
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}

		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}

		if !found {
			return ErrInvalidAudience
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

// ValidateToken verifies a bearer JWT's signature and claims and returns the
// verified identity. The jwt library enforces exp and nbf bounds with its
// default clock-skew handling; issuer and expiry are re-checked explicitly.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	identity, err := claimsToIdentity(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingSubClaim, err)
	}

	return identity, nil
}

// JWKSURL returns the JWKS URL used by the validator
func (v *Validator) JWKSURL() string {
	return v.jwksURL
}
