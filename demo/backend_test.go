package demo

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestBackend(t *testing.T, opts ...Option) (*Backend, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	backend, err := NewBackend(opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, srv
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestBackendLoginIssuesSignedTokens(t *testing.T) {
	backend, srv := newTestBackend(t)

	resp, body := postJSON(t, srv.URL+"/api/auth/login", map[string]string{
		"emailOrUsername": "admin@school.edu",
		"password":        "admin123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	user := body["user"].(map[string]any)
	assert.Equal(t, "admin", user["role"])
	assert.Equal(t, "admin@school.edu", user["email"])

	access := body["accessToken"].(string)
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(access, claims, func(*jwt.Token) (any, error) {
		return backend.PublicKey(), nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.Equal(t, authclient.RoleAdmin, claims.User.Role)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestBackendLoginAcceptsUsername(t *testing.T) {
	_, srv := newTestBackend(t)

	resp, _ := postJSON(t, srv.URL+"/api/auth/login", map[string]string{
		"emailOrUsername": "teacher",
		"password":        "teacher123",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBackendLoginRejectsWrongPassword(t *testing.T) {
	_, srv := newTestBackend(t)

	resp, body := postJSON(t, srv.URL+"/api/auth/login", map[string]string{
		"emailOrUsername": "admin@school.edu",
		"password":        "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid email or password", body["error"])
}

func TestBackendRefreshTokensAreSingleUse(t *testing.T) {
	backend, srv := newTestBackend(t)
	user, ok := backend.Account("student@school.edu")
	require.True(t, ok)

	pair, err := backend.IssueTokens(user)
	require.NoError(t, err)

	resp, body := postJSON(t, srv.URL+"/api/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEqual(t, pair.RefreshToken, body["refreshToken"])

	resp, _ = postJSON(t, srv.URL+"/api/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBackendRegisterRequiresVerification(t *testing.T) {
	_, srv := newTestBackend(t)

	resp, body := postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username":  "newbie",
		"email":     "newbie@school.edu",
		"firstName": "Newbie",
		"lastName":  "User",
		"password":  "password123",
		"role":      "STUDENT",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, body["message"], "Registration successful")

	resp, _ = postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "newbie",
		"email":    "newbie@school.edu",
		"password": "password123",
		"role":     "STUDENT",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	login := map[string]string{"emailOrUsername": "newbie@school.edu", "password": "password123"}
	resp, _ = postJSON(t, srv.URL+"/api/auth/login", login)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/api/verify-email", map[string]string{"email": "newbie@school.edu", "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	resp, body = postJSON(t, srv.URL+"/api/verify-email", map[string]string{"email": "newbie@school.edu", "code": DefaultVerificationCode})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = postJSON(t, srv.URL+"/api/auth/login", login)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBackendJWKSPublishesSigningKey(t *testing.T) {
	backend, srv := newTestBackend(t)

	resp, err := http.Get(srv.URL + JWKSPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc JWKS
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, "RSA", doc.Keys[0].Kty)
	assert.Equal(t, "RS256", doc.Keys[0].Alg)
	assert.Equal(t, backend.JWKS().Keys[0].N, doc.Keys[0].N)
}

func TestBackendAuthorizationRedirectsWithCode(t *testing.T) {
	_, srv := newTestBackend(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	params := url.Values{
		"client_id":    {"school-management-app"},
		"redirect_uri": {"http://widget.local/callback"},
		"state":        {"xyz"},
	}
	resp, err := client.Get(srv.URL + "/api/oauth2/authorization/github?" + params.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{"grant_type": {"authorization_code"}, "code": {code}}
	resp, err = http.Post(srv.URL+"/api/oauth2/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	assert.NotEmpty(t, tokens["access_token"])
	assert.NotEmpty(t, tokens["refresh_token"])

	resp2, err := http.Post(srv.URL+"/api/oauth2/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
