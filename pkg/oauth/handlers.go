package oauth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// Server implements the OAuth 2.0 authorization server endpoints.
type Server struct {
	cfg   Config
	store GrantStore
}

// NewServer creates a new authorization server backed by the given store.
func NewServer(cfg Config, store GrantStore) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Server{cfg: cfg, store: store}, nil
}

// RegisterRoutes mounts all authorization server endpoints on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(recoverServerError)

		g.Get("/.well-known/oauth-authorization-server", s.handleMetadata)
		g.Get("/oauth/authorize", s.handleAuthorize)
		g.Post("/oauth/token", s.handleToken)
		g.Get("/oauth/userinfo", s.handleUserinfo)
		g.Post("/oauth/revoke", s.handleRevoke)
		g.Post("/oauth/introspect", s.handleIntrospect)
	})
}

// Router returns a standalone router with all endpoints mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// recoverServerError converts handler panics into a server_error response so
// internal faults never leak details to the caller.
func recoverServerError(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("handler panicked", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metadataDocument is the RFC 8414 authorization server metadata document.
type metadataDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	issuer := s.cfg.Issuer
	doc := metadataDocument{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		UserinfoEndpoint:                  issuer + "/oauth/userinfo",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		IntrospectionEndpoint:             issuer + "/oauth/introspect",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		ScopesSupported:                   s.cfg.Scopes,
	}

	// Metadata is static per process; allow clients to cache it.
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")

	// Errors here are returned as JSON rather than a redirect: the
	// redirect_uri cannot be trusted until the client checks out.
	if responseType != "code" || clientID == "" || redirectURI == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest,
			"client_id, redirect_uri and response_type=code are required")
		return
	}

	if clientID != s.cfg.Client.ID {
		writeError(w, http.StatusBadRequest, ErrorCodeUnauthorizedClient, "unknown client_id")
		return
	}

	if !s.cfg.Client.redirectURIAllowed(redirectURI) {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "redirect_uri is not registered")
		return
	}

	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	if codeChallenge != "" && codeChallengeMethod != "" && codeChallengeMethod != "S256" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest,
			"only the S256 code_challenge_method is supported")
		return
	}

	code, err := GenerateToken()
	if err != nil {
		logger.Errorf("Failed to generate authorization code: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
		return
	}

	authCode := &AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               q.Get("scope"),
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Subject:             s.cfg.Subject,
		ExpiresAt:           time.Now().Add(s.cfg.AuthCodeLifespan),
	}
	if err := s.store.PutCode(r.Context(), authCode); err != nil {
		logger.Errorf("Failed to store authorization code: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "redirect_uri is not a valid URL")
		return
	}
	params := target.Query()
	params.Set("code", code)
	// state is the caller's CSRF defense; echo it back verbatim.
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()

	logger.Debugw("issued authorization code", "client_id", clientID, "has_pkce", codeChallenge != "")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// tokenResponse is the success body of the token endpoint per RFC 6749
// section 5.1. The refresh grant omits refresh_token: the original token
// stays valid and is not rotated.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeAuthorizationCode(w, r)
	case "refresh_token":
		s.exchangeRefreshToken(w, r)
	default:
		writeError(w, http.StatusBadRequest, ErrorCodeUnsupportedGrantType,
			"grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) exchangeAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	// The code is consumed before anything else is validated: even a failed
	// exchange burns it, so a leaked code cannot be retried.
	code, err := s.store.ConsumeCode(r.Context(), r.PostForm.Get("code"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidGrant,
			"authorization code is invalid or expired")
		return
	}

	if !s.validClientCredentials(r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")) {
		writeError(w, http.StatusUnauthorized, ErrorCodeInvalidClient, "invalid client credentials")
		return
	}

	if code.CodeChallenge != "" {
		if !VerifyPKCE(r.PostForm.Get("code_verifier"), code.CodeChallenge) {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidGrant, "PKCE verification failed")
			return
		}
	}

	accessToken, refreshToken, err := s.mintTokenPair(r, code.Subject, code.ClientID, code.Scope)
	if err != nil {
		logger.Errorf("Failed to mint tokens: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
		return
	}

	logger.Infow("exchanged authorization code",
		"client_id", code.ClientID,
		"subject", code.Subject,
		"scope", code.Scope,
	)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenLifespan.Seconds()),
		RefreshToken: refreshToken.Token,
		Scope:        accessToken.Scope,
	})
}

func (s *Server) exchangeRefreshToken(w http.ResponseWriter, r *http.Request) {
	refresh, err := s.store.GetRefreshToken(r.Context(), r.PostForm.Get("refresh_token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidGrant, "refresh token is invalid")
		return
	}

	if !s.validClientCredentials(r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")) {
		writeError(w, http.StatusUnauthorized, ErrorCodeInvalidClient, "invalid client credentials")
		return
	}

	// The previously linked access token is dead the moment a new one is
	// minted; the refresh token itself is not rotated.
	if refresh.AccessToken != "" {
		if err := s.store.RevokeAccessToken(r.Context(), refresh.AccessToken); err != nil {
			logger.Errorf("Failed to revoke previous access token: %v", err)
			writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
			return
		}
	}

	access, err := s.mintAccessToken(r, refresh.Subject, refresh.ClientID, refresh.Scope)
	if err != nil {
		logger.Errorf("Failed to mint access token: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
		return
	}

	refresh.AccessToken = access.Token
	if err := s.store.PutRefreshToken(r.Context(), refresh); err != nil {
		logger.Errorf("Failed to re-link refresh token: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
		return
	}

	logger.Infow("refreshed access token", "client_id", refresh.ClientID, "subject", refresh.Subject)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenLifespan.Seconds()),
		Scope:       access.Scope,
	})
}

// mintAccessToken generates and stores a new access token.
func (s *Server) mintAccessToken(r *http.Request, subject, clientID, scope string) (*AccessToken, error) {
	value, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	access := &AccessToken{
		Token:     value,
		Subject:   subject,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: time.Now().Add(s.cfg.AccessTokenLifespan),
	}
	if err := s.store.PutAccessToken(r.Context(), access); err != nil {
		return nil, err
	}
	return access, nil
}

// mintTokenPair generates and stores a linked access/refresh token pair.
func (s *Server) mintTokenPair(r *http.Request, subject, clientID, scope string) (*AccessToken, *RefreshToken, error) {
	access, err := s.mintAccessToken(r, subject, clientID, scope)
	if err != nil {
		return nil, nil, err
	}

	value, err := GenerateToken()
	if err != nil {
		return nil, nil, err
	}
	refresh := &RefreshToken{
		Token:       value,
		Subject:     subject,
		ClientID:    clientID,
		Scope:       scope,
		AccessToken: access.Token,
	}
	if err := s.store.PutRefreshToken(r.Context(), refresh); err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

// userinfoResponse is the body of the userinfo endpoint.
type userinfoResponse struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Scope string `json:"scope"`
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authenticateBearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrorCodeInvalidToken, "invalid or expired access token")
		return
	}

	writeJSON(w, http.StatusOK, userinfoResponse{
		Sub:   access.Subject,
		Name:  s.cfg.SubjectName,
		Email: s.cfg.SubjectEmail,
		Scope: access.Scope,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed form body")
		return
	}

	if !s.validClientCredentials(r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")) {
		writeError(w, http.StatusUnauthorized, ErrorCodeInvalidClient, "invalid client credentials")
		return
	}

	token := r.PostForm.Get("token")

	// RFC 7009: revocation is idempotent and never reveals whether the
	// token existed. Try the refresh store first so the cascade to the
	// linked access token happens.
	if _, err := s.store.GetRefreshToken(r.Context(), token); err == nil {
		if err := s.store.RevokeRefreshToken(r.Context(), token); err != nil {
			logger.Errorf("Failed to revoke refresh token: %v", err)
		}
	} else if err := s.store.RevokeAccessToken(r.Context(), token); err != nil {
		logger.Errorf("Failed to revoke access token: %v", err)
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// introspectionResponse is the body of the introspection endpoint per
// RFC 7662. All fields except active are omitted for inactive tokens.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed form body")
		return
	}

	if !s.validClientCredentials(r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")) {
		writeError(w, http.StatusUnauthorized, ErrorCodeInvalidClient, "invalid client credentials")
		return
	}

	// An unknown or expired token is a valid outcome, not an error.
	access, err := s.store.GetAccessToken(r.Context(), r.PostForm.Get("token"))
	if err != nil {
		writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, introspectionResponse{
		Active:   true,
		ClientID: access.ClientID,
		Scope:    access.Scope,
		Sub:      access.Subject,
		Exp:      access.ExpiresAt.Unix(),
	})
}

// validClientCredentials checks the presented client credentials against the
// configured client. The secret comparison is constant-time.
func (s *Server) validClientCredentials(clientID, clientSecret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(clientID), []byte(s.cfg.Client.ID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(clientSecret), []byte(s.cfg.Client.Secret)) == 1
	return idOK && secretOK
}

// redirectURIAllowed reports whether the client may use the given redirect
// URI. An empty allow-list accepts any URI.
func (c *ClientConfig) redirectURIAllowed(uri string) bool {
	if len(c.RedirectURIs) == 0 {
		return true
	}
	for _, allowed := range c.RedirectURIs {
		if uri == allowed {
			return true
		}
	}
	return false
}
