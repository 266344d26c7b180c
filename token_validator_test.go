package authclient

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWKS(t *testing.T) (*rsa.PrivateKey, []byte, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kid := "test-key"
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	data, err := json.Marshal(map[string]any{"keys": []map[string]any{jwk}})
	require.NoError(t, err)

	return privateKey, data, kid
}

func newJWKSServer(t *testing.T, jwks []byte, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func testClaims(issuer string, exp time.Time) *TokenClaims {
	return &TokenClaims{
		User: &User{ID: "user-1", Email: "teacher@school.edu", Role: RoleTeacher},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func newValidatorService(t *testing.T, baseURL string) *Service {
	t.Helper()
	svc := NewService(ServiceConfig{BaseURL: baseURL + "/api"}, WithServiceLogger(&recordingLogger{}))
	t.Cleanup(svc.Close)
	return svc
}

func TestJWKSValidatorAcceptsValidToken(t *testing.T) {
	key, jwks, kid := newTestJWKS(t)
	var hits int32
	server := newJWKSServer(t, jwks, &hits)

	validator := NewJWKSValidator(newValidatorService(t, server.URL), WithIssuer("school-idp"))
	token := signToken(t, key, kid, testClaims("school-idp", time.Now().Add(time.Hour)))

	claims, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "teacher@school.edu", claims.User.Email)
	assert.Equal(t, RoleTeacher, claims.User.Role)

	_, err = validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestJWKSValidatorRejectsForeignSignature(t *testing.T) {
	_, jwks, kid := newTestJWKS(t)
	var hits int32
	server := newJWKSServer(t, jwks, &hits)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	validator := NewJWKSValidator(newValidatorService(t, server.URL))
	token := signToken(t, otherKey, kid, testClaims("school-idp", time.Now().Add(time.Hour)))

	_, err = validator.Validate(context.Background(), token)
	require.Error(t, err)

	var richErr *goerrors.Error
	if assert.ErrorAs(t, err, &richErr) {
		assert.Equal(t, TextCodeTokenSignature, richErr.TextCode)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "key set is fetched again before giving up")
}

func TestJWKSValidatorRejectsClaims(t *testing.T) {
	key, jwks, kid := newTestJWKS(t)
	var hits int32
	server := newJWKSServer(t, jwks, &hits)
	validator := NewJWKSValidator(newValidatorService(t, server.URL), WithIssuer("school-idp"))

	expired := signToken(t, key, kid, testClaims("school-idp", time.Now().Add(-time.Minute)))
	_, err := validator.Validate(context.Background(), expired)
	assert.True(t, IsError(err, ErrTokenSignature))

	wrongIssuer := signToken(t, key, kid, testClaims("someone-else", time.Now().Add(time.Hour)))
	_, err = validator.Validate(context.Background(), wrongIssuer)
	assert.True(t, IsError(err, ErrTokenSignature))

	_, err = validator.Validate(context.Background(), "not-a-token")
	assert.True(t, IsError(err, ErrInvalidTokenFormat))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestJWKSValidatorReportsUnavailableKeys(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	validator := NewJWKSValidator(newValidatorService(t, baseURL))
	_, err := validator.Validate(context.Background(), "a.b.c")
	assert.True(t, IsError(err, ErrPublicKeyUnavailable))
}

func TestServiceFetchPublicKeyCaches(t *testing.T) {
	_, jwks, kid := newTestJWKS(t)
	var hits int32
	server := newJWKSServer(t, jwks, &hits)
	svc := newValidatorService(t, server.URL)

	first, err := svc.FetchPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{kid}, first.KIDs())
	assert.False(t, first.FetchedAt().IsZero())

	second, err := svc.FetchPublicKey(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)

	svc.InvalidatePublicKey()
	third, err := svc.FetchPublicKey(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestServiceFetchPublicKeyHonoursContext(t *testing.T) {
	svc := newValidatorService(t, "http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.FetchPublicKey(ctx)
	assert.True(t, IsError(err, ErrPublicKeyUnavailable))
}
