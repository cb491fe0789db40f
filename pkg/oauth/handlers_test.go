package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "weather-mcp-client"
	testClientSecret = "weather-mcp-secret"
	testRedirectURI  = "http://cb"
	testVerifier     = "verifier123"
)

type endpointFixture struct {
	server *Server
	store  *MemoryStore
	ts     *httptest.Server
	client *http.Client
}

func newEndpointFixture(t *testing.T) *endpointFixture {
	t.Helper()

	store := NewMemoryStore()
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	server, err := NewServer(Config{
		Issuer: "http://localhost:8000",
		Client: ClientConfig{
			ID:     testClientID,
			Secret: testClientSecret,
		},
		Subject: "demo-user",
		Scopes:  []string{"weather:read", "weather:forecast", "weather:alerts"},
	}, store)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &endpointFixture{
		server: server,
		store:  store,
		ts:     ts,
		client: &http.Client{
			// Redirects are the response under test; don't follow them.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// authorize runs the authorization request and returns the raw response.
func (f *endpointFixture) authorize(t *testing.T, params url.Values) *http.Response {
	t.Helper()
	resp, err := f.client.Get(f.ts.URL + "/oauth/authorize?" + params.Encode())
	require.NoError(t, err)
	return resp
}

// obtainCode runs a full authorization request with the S256 challenge for
// testVerifier and extracts the code from the redirect.
func (f *endpointFixture) obtainCode(t *testing.T) string {
	t.Helper()

	resp := f.authorize(t, url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {"code"},
		"scope":                 {"weather:read"},
		"state":                 {"xyz"},
		"code_challenge":        {CodeChallengeS256(testVerifier)},
		"code_challenge_method": {"S256"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// exchange posts the form to the token endpoint and decodes the body into out.
func (f *endpointFixture) exchange(t *testing.T, form url.Values, out any) *http.Response {
	t.Helper()
	resp, err := f.client.PostForm(f.ts.URL+"/oauth/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

// obtainTokens runs the full code flow and returns the token response.
func (f *endpointFixture) obtainTokens(t *testing.T) tokenResponse {
	t.Helper()

	code := f.obtainCode(t)
	var tokens tokenResponse
	resp := f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"redirect_uri":  {testRedirectURI},
	}, &tokens)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return tokens
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestMetadataDocument(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	resp, err := f.client.Get(f.ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")

	var doc metadataDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))

	assert.Equal(t, "http://localhost:8000", doc.Issuer)
	assert.Equal(t, "http://localhost:8000/oauth/authorize", doc.AuthorizationEndpoint)
	assert.Equal(t, "http://localhost:8000/oauth/token", doc.TokenEndpoint)
	assert.Equal(t, "http://localhost:8000/oauth/revoke", doc.RevocationEndpoint)
	assert.Equal(t, "http://localhost:8000/oauth/introspect", doc.IntrospectionEndpoint)
	assert.Equal(t, []string{"code"}, doc.ResponseTypesSupported)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, doc.GrantTypesSupported)
	assert.Equal(t, []string{"S256"}, doc.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"weather:read", "weather:forecast", "weather:alerts"}, doc.ScopesSupported)
}

func TestAuthorizeValidation(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tests := []struct {
		name      string
		params    url.Values
		wantError string
	}{
		{
			name: "missing client_id",
			params: url.Values{
				"redirect_uri":  {testRedirectURI},
				"response_type": {"code"},
			},
			wantError: ErrorCodeInvalidRequest,
		},
		{
			name: "missing redirect_uri",
			params: url.Values{
				"client_id":     {testClientID},
				"response_type": {"code"},
			},
			wantError: ErrorCodeInvalidRequest,
		},
		{
			name: "wrong response_type",
			params: url.Values{
				"client_id":     {testClientID},
				"redirect_uri":  {testRedirectURI},
				"response_type": {"token"},
			},
			wantError: ErrorCodeInvalidRequest,
		},
		{
			name: "unknown client",
			params: url.Values{
				"client_id":     {"other-client"},
				"redirect_uri":  {testRedirectURI},
				"response_type": {"code"},
			},
			wantError: ErrorCodeUnauthorizedClient,
		},
		{
			name: "unsupported challenge method",
			params: url.Values{
				"client_id":             {testClientID},
				"redirect_uri":          {testRedirectURI},
				"response_type":         {"code"},
				"code_challenge":        {"abc"},
				"code_challenge_method": {"plain"},
			},
			wantError: ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := f.authorize(t, tt.params)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestAuthorizeRedirect(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	resp := f.authorize(t, url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"response_type": {"code"},
		"state":         {"opaque-state-42"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "cb", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	// state is echoed back verbatim.
	assert.Equal(t, "opaque-state-42", loc.Query().Get("state"))

	assert.Equal(t, 1, f.store.Stats().Codes)
}

func TestAuthorizeRedirectURIAllowList(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	server, err := NewServer(Config{
		Issuer: "http://localhost:8000",
		Client: ClientConfig{
			ID:           testClientID,
			Secret:       testClientSecret,
			RedirectURIs: []string{"http://registered/callback"},
		},
		Subject: "demo-user",
	}, store)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/oauth/authorize?" + url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {"http://evil/callback"},
		"response_type": {"code"},
	}.Encode())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, ErrorCodeInvalidRequest, body.Error)
}

func TestCodeExchangeFlow(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	code := f.obtainCode(t)

	var tokens tokenResponse
	resp := f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"redirect_uri":  {testRedirectURI},
	}, &tokens)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, 3600, tokens.ExpiresIn)
	assert.Equal(t, "weather:read", tokens.Scope)

	// Reusing the consumed code always yields invalid_grant.
	var errBody errorResponse
	resp = f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidGrant, errBody.Error)
}

func TestCodeExchangePKCEFailures(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tests := []struct {
		name     string
		verifier string
	}{
		{"wrong verifier", "not-the-verifier"},
		{"missing verifier", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code := f.obtainCode(t)

			form := url.Values{
				"grant_type":    {"authorization_code"},
				"code":          {code},
				"client_id":     {testClientID},
				"client_secret": {testClientSecret},
			}
			if tt.verifier != "" {
				form.Set("code_verifier", tt.verifier)
			}

			var errBody errorResponse
			resp := f.exchange(t, form, &errBody)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, ErrorCodeInvalidGrant, errBody.Error)
		})
	}
}

func TestCodeExchangeClientAuth(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	code := f.obtainCode(t)

	var errBody errorResponse
	resp := f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {"wrong-secret"},
	}, &errBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidClient, errBody.Error)

	// The code was consumed by the failed attempt and cannot be retried.
	resp = f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidGrant, errBody.Error)
}

func TestUnsupportedGrantType(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	var errBody errorResponse
	resp := f.exchange(t, url.Values{
		"grant_type": {"password"},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrorCodeUnsupportedGrantType, errBody.Error)
}

func TestRefreshGrant(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	var refreshed tokenResponse
	resp := f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &refreshed)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	assert.Equal(t, tokens.Scope, refreshed.Scope)
	// The refresh token is not rotated and not re-issued in the response.
	assert.Empty(t, refreshed.RefreshToken)

	// The previous access token is invalid after the refresh.
	introspection := f.introspect(t, tokens.AccessToken)
	assert.False(t, introspection.Active)

	// The new one is active and linked to the same refresh token.
	introspection = f.introspect(t, refreshed.AccessToken)
	assert.True(t, introspection.Active)

	// The same refresh token works again.
	var again tokenResponse
	resp = f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &again)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshGrantFailures(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	var errBody errorResponse
	resp := f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"no-such-token"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidGrant, errBody.Error)

	resp = f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {"wrong-secret"},
	}, &errBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidClient, errBody.Error)
}

func TestUserinfo(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/oauth/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info userinfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "demo-user", info.Sub)
	assert.Equal(t, "Demo User", info.Name)
	assert.Equal(t, "demo@example.com", info.Email)
	assert.Equal(t, "weather:read", info.Scope)
}

func TestUserinfoRejectsBadToken(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"unknown token", "Bearer no-such-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/oauth/userinfo", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := f.client.Do(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, ErrorCodeInvalidToken, body.Error)
		})
	}
}

// introspect posts to the introspection endpoint with valid client creds.
func (f *endpointFixture) introspect(t *testing.T, token string) introspectionResponse {
	t.Helper()

	resp, err := f.client.PostForm(f.ts.URL+"/oauth/introspect", url.Values{
		"token":         {token},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body introspectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestIntrospect(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	body := f.introspect(t, tokens.AccessToken)
	assert.True(t, body.Active)
	assert.Equal(t, testClientID, body.ClientID)
	assert.Equal(t, "demo-user", body.Sub)
	assert.Equal(t, "weather:read", body.Scope)
	assert.Greater(t, body.Exp, time.Now().Unix())

	// Unknown tokens are an inactive result, never an error.
	body = f.introspect(t, "no-such-token")
	assert.False(t, body.Active)
	assert.Empty(t, body.ClientID)
}

func TestIntrospectExpiredToken(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	require.NoError(t, f.store.PutAccessToken(t.Context(), &AccessToken{
		Token:     "expired-token",
		Subject:   "demo-user",
		ClientID:  testClientID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	body := f.introspect(t, "expired-token")
	assert.False(t, body.Active)
}

func TestIntrospectRequiresClientAuth(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	resp, err := f.client.PostForm(f.ts.URL+"/oauth/introspect", url.Values{
		"token":         {"whatever"},
		"client_id":     {testClientID},
		"client_secret": {"wrong-secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, ErrorCodeInvalidClient, body.Error)
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	revoke := func(token string) *http.Response {
		resp, err := f.client.PostForm(f.ts.URL+"/oauth/revoke", url.Values{
			"token":         {token},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
		})
		require.NoError(t, err)
		return resp
	}

	// Revoking the refresh token cascades to its linked access token.
	resp := revoke(tokens.RefreshToken)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.False(t, f.introspect(t, tokens.AccessToken).Active)

	var errBody errorResponse
	tokenResp := f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, tokenResp.StatusCode)
	assert.Equal(t, ErrorCodeInvalidGrant, errBody.Error)

	// Revoking an unknown token is a silent no-op.
	resp = revoke("no-such-token")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRevokeAccessTokenOnly(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	tokens := f.obtainTokens(t)

	resp, err := f.client.PostForm(f.ts.URL+"/oauth/revoke", url.Values{
		"token":         {tokens.AccessToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.False(t, f.introspect(t, tokens.AccessToken).Active)

	// The refresh token survives and still works.
	var refreshed tokenResponse
	tokenResp := f.exchange(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}, &refreshed)
	assert.Equal(t, http.StatusOK, tokenResp.StatusCode)
}

func TestRevokeRequiresClientAuth(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	resp, err := f.client.PostForm(f.ts.URL+"/oauth/revoke", url.Values{
		"token":         {"whatever"},
		"client_id":     {testClientID},
		"client_secret": {"wrong-secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, ErrorCodeInvalidClient, body.Error)
}

func TestAuthorizeWithoutPKCEThenExchange(t *testing.T) {
	t.Parallel()
	f := newEndpointFixture(t)

	// A code minted without a challenge exchanges without a verifier.
	resp := f.authorize(t, url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"response_type": {"code"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	// No state was supplied, so none is echoed.
	assert.False(t, strings.Contains(resp.Header.Get("Location"), "state="))

	var tokens tokenResponse
	tokenResp := f.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"redirect_uri":  {testRedirectURI},
	}, &tokens)
	assert.Equal(t, http.StatusOK, tokenResp.StatusCode)
	assert.NotEmpty(t, tokens.AccessToken)
}
