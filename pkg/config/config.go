// Package config loads the resolved runtime settings for the tempest server.
//
// Settings come from an optional YAML config file and from TEMPEST_-prefixed
// environment variables, with env vars taking precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Auth modes for the protected MCP endpoint.
const (
	// AuthModeOAuth runs the built-in authorization server and validates
	// self-issued opaque access tokens.
	AuthModeOAuth = "oauth"

	// AuthModeJWKS validates externally issued JWTs against a remote JWKS.
	AuthModeJWKS = "jwks"
)

// Settings is the fully resolved server configuration.
type Settings struct {
	// Host and Port are the listen address for the HTTP server.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AuthMode selects how the MCP endpoint is guarded: "oauth" or "jwks".
	AuthMode string `mapstructure:"auth_mode"`

	// Issuer is the issuer identifier. In oauth mode it is this server's
	// own issuer; in jwks mode it is the expected "iss" of presented tokens.
	Issuer string `mapstructure:"issuer"`

	// JWKSURL is the remote key set URL. Required in jwks mode.
	JWKSURL string `mapstructure:"jwks_url"`

	// Audience is the expected token audience in jwks mode. Optional.
	Audience string `mapstructure:"audience"`

	// ClientID and ClientSecret are the single pre-registered OAuth client.
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// RedirectURIs is the allow-list of redirect URIs for the client.
	// Empty accepts any redirect URI (development mode).
	RedirectURIs []string `mapstructure:"redirect_uris"`

	// OpenWeatherAPIKey is the OpenWeatherMap API key for the weather tools.
	OpenWeatherAPIKey string `mapstructure:"openweather_api_key"`
}

// setDefaults registers the default values on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8000)
	v.SetDefault("auth_mode", AuthModeOAuth)
	v.SetDefault("client_id", "weather-mcp-client")
	v.SetDefault("client_secret", "weather-mcp-secret")
	v.SetDefault("openweather_api_key", "demo")
}

// LoadUnvalidated reads settings from the given config file (optional) and
// the environment, applying defaults but skipping validation. Callers that
// layer overrides on top (e.g. command-line flags) validate afterwards.
func LoadUnvalidated(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TEMPEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}

// Load reads settings like LoadUnvalidated and validates the result.
func Load(configFile string) (*Settings, error) {
	s, err := LoadUnvalidated(configFile)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	switch s.AuthMode {
	case AuthModeOAuth:
		if s.ClientID == "" || s.ClientSecret == "" {
			return fmt.Errorf("client_id and client_secret are required in oauth mode")
		}
	case AuthModeJWKS:
		if s.JWKSURL == "" {
			return fmt.Errorf("jwks_url is required in jwks mode")
		}
		if s.Issuer == "" {
			return fmt.Errorf("issuer is required in jwks mode")
		}
	default:
		return fmt.Errorf("auth_mode must be %q or %q, got %q", AuthModeOAuth, AuthModeJWKS, s.AuthMode)
	}

	return nil
}

// BaseURL returns the server's own base URL, used as the default issuer.
func (s *Settings) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}
