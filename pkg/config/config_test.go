package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // t.Setenv is incompatible with t.Parallel
func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", s.Host)
	assert.Equal(t, 8000, s.Port)
	assert.Equal(t, AuthModeOAuth, s.AuthMode)
	assert.Equal(t, "weather-mcp-client", s.ClientID)
	assert.Equal(t, "weather-mcp-secret", s.ClientSecret)
	assert.Equal(t, "demo", s.OpenWeatherAPIKey)
	assert.Equal(t, "http://localhost:8000", s.BaseURL())
}

//nolint:paralleltest // t.Setenv is incompatible with t.Parallel
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TEMPEST_HOST", "0.0.0.0")
	t.Setenv("TEMPEST_PORT", "9090")
	t.Setenv("TEMPEST_AUTH_MODE", AuthModeJWKS)
	t.Setenv("TEMPEST_JWKS_URL", "https://issuer.example.com/jwks")
	t.Setenv("TEMPEST_ISSUER", "https://issuer.example.com")
	t.Setenv("TEMPEST_OPENWEATHER_API_KEY", "real-key")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 9090, s.Port)
	assert.Equal(t, AuthModeJWKS, s.AuthMode)
	assert.Equal(t, "https://issuer.example.com/jwks", s.JWKSURL)
	assert.Equal(t, "https://issuer.example.com", s.Issuer)
	assert.Equal(t, "real-key", s.OpenWeatherAPIKey)
}

//nolint:paralleltest // viper reads the environment
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 127.0.0.1
port: 8443
client_id: my-client
client_secret: my-secret
redirect_uris:
  - http://localhost:3000/callback
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", s.Host)
	assert.Equal(t, 8443, s.Port)
	assert.Equal(t, "my-client", s.ClientID)
	assert.Equal(t, "my-secret", s.ClientSecret)
	assert.Equal(t, []string{"http://localhost:3000/callback"}, s.RedirectURIs)
}

//nolint:paralleltest // viper reads the environment
func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		return &Settings{
			Host:         "localhost",
			Port:         8000,
			AuthMode:     AuthModeOAuth,
			ClientID:     "client",
			ClientSecret: "secret",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "valid oauth mode",
			mutate: func(*Settings) {},
		},
		{
			name: "valid jwks mode",
			mutate: func(s *Settings) {
				s.AuthMode = AuthModeJWKS
				s.JWKSURL = "https://issuer/jwks"
				s.Issuer = "https://issuer"
			},
		},
		{
			name:    "port out of range",
			mutate:  func(s *Settings) { s.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "oauth mode without client secret",
			mutate:  func(s *Settings) { s.ClientSecret = "" },
			wantErr: "client_id and client_secret",
		},
		{
			name: "jwks mode without jwks_url",
			mutate: func(s *Settings) {
				s.AuthMode = AuthModeJWKS
				s.Issuer = "https://issuer"
			},
			wantErr: "jwks_url",
		},
		{
			name: "jwks mode without issuer",
			mutate: func(s *Settings) {
				s.AuthMode = AuthModeJWKS
				s.JWKSURL = "https://issuer/jwks"
			},
			wantErr: "issuer",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(s *Settings) { s.AuthMode = "basic" },
			wantErr: "auth_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := valid()
			tt.mutate(s)

			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
