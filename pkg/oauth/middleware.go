package oauth

import (
	"net/http"
	"strings"

	"github.com/tempest-mcp/tempest/pkg/auth"
	"github.com/tempest-mcp/tempest/pkg/logger"
)

// bearerToken extracts the bearer token from the Authorization header.
// Returns false when the header is absent or not a Bearer credential.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", false
	}
	return token, true
}

// authenticateBearer resolves the request's bearer token against the store.
func (s *Server) authenticateBearer(r *http.Request) (*AccessToken, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, false
	}
	access, err := s.store.GetAccessToken(r.Context(), token)
	if err != nil {
		return nil, false
	}
	return access, true
}

// Middleware guards a protected resource with self-issued opaque access
// tokens. Requests to paths on the allow-list, and CORS preflight requests,
// bypass authentication. Every failure yields the same generic 401
// invalid_token body so callers cannot probe which check failed.
func (s *Server) Middleware(allowedPaths ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedPaths))
	for _, p := range allowedPaths {
		allowed[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			access, ok := s.authenticateBearer(r)
			if !ok {
				logger.Debugw("rejected unauthenticated request", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="tempest", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, ErrorCodeInvalidToken,
					"missing, invalid or expired access token")
				return
			}

			identity := &auth.Identity{
				Subject: access.Subject,
				Claims: map[string]any{
					"sub":       access.Subject,
					"client_id": access.ClientID,
					"scope":     access.Scope,
					"exp":       access.ExpiresAt.Unix(),
				},
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
