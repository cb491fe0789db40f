package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// middlewareError is the JSON body written on authentication failure.
type middlewareError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// writeUnauthorized writes the generic 401 response. The body never reveals
// which validation step failed.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tempest", error="invalid_token"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(middlewareError{
		Error:            "invalid_token",
		ErrorDescription: "missing, invalid or expired bearer token",
	}); err != nil {
		logger.Errorf("Failed to encode unauthorized response: %v", err)
	}
}

// Middleware creates an HTTP middleware that verifies bearer JWTs against
// the validator's JWKS. Requests to paths on the allow-list, and CORS
// preflight requests, bypass verification entirely. On success the verified
// identity is attached to the request context; on any failure the request is
// rejected with a generic 401 so the failing check cannot be probed.
func (v *Validator) Middleware(allowedPaths ...string) func(http.Handler) http.Handler {
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

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeUnauthorized(w)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			identity, err := v.ValidateToken(r.Context(), tokenString)
			if err != nil {
				// Log the real reason; the response stays generic.
				logger.Debugw("token validation failed", "path", r.URL.Path, "error", err)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
