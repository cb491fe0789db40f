// Package oauth implements a minimal OAuth 2.0 authorization server with PKCE
// support (RFC 6749, RFC 7636), token introspection (RFC 7662), token
// revocation (RFC 7009), and server metadata discovery (RFC 8414).
//
// Tokens issued by this server are opaque: validity is determined solely by
// server-side lookup, never by inspecting the token value.
package oauth

import (
	"fmt"
	"time"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// Config is the pure configuration for the OAuth authorization server.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier for this authorization server.
	// It is reported in the RFC 8414 metadata document.
	Issuer string

	// Client is the single pre-registered OAuth client.
	Client ClientConfig

	// Subject is the identity that authorization codes are minted for.
	// There is no authentication step in front of the authorize endpoint;
	// a real deployment plugs one in before minting a code.
	Subject string

	// SubjectName and SubjectEmail are reported by the userinfo endpoint.
	SubjectName  string
	SubjectEmail string

	// Scopes is the list of scopes advertised in the metadata document.
	Scopes []string

	// AccessTokenLifespan is the duration that access tokens are valid.
	// If zero, defaults to 1 hour.
	AccessTokenLifespan time.Duration

	// AuthCodeLifespan is the duration that authorization codes are valid.
	// If zero, defaults to 10 minutes.
	AuthCodeLifespan time.Duration
}

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	// ID is the unique identifier for this client.
	ID string

	// Secret is the client secret. Required for confidential clients.
	Secret string

	// RedirectURIs is the list of allowed redirect URIs for this client.
	// If empty, any redirect URI is accepted (development mode).
	RedirectURIs []string
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	logger.Debugw("validating oauth config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}

	logger.Debugw("oauth config validation passed",
		"issuer", c.Issuer,
		"clientID", c.Client.ID,
	)
	return nil
}

// Validate checks that the ClientConfig is valid.
func (c *ClientConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("client secret is required")
	}
	return nil
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = time.Hour
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = 10 * time.Minute
	}
	if c.SubjectName == "" {
		c.SubjectName = "Demo User"
	}
	if c.SubjectEmail == "" {
		c.SubjectEmail = "demo@example.com"
	}
}
