package demo

import (
	"encoding/base64"
	"errors"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-client"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errInvalidRefreshToken = errors.New("invalid refresh token")

type accessClaims struct {
	User *authclient.User `json:"user"`
	Type string           `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// JWK is a public RSA key in JWKS form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the document served at JWKSPath.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// IssueTokens signs a fresh pair for user and registers the refresh token.
func (b *Backend) IssueTokens(user authclient.User) (authclient.TokenPair, error) {
	now := b.now()

	access := jwt.NewWithClaims(jwt.SigningMethodRS256, &accessClaims{
		User: &user,
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.accessTTL)),
			ID:        uuid.NewString(),
		},
	})
	access.Header["kid"] = b.kid

	jti := uuid.NewString()
	refresh := jwt.NewWithClaims(jwt.SigningMethodRS256, &refreshClaims{
		Type: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.refreshTTL)),
			ID:        jti,
		},
	})
	refresh.Header["kid"] = b.kid

	accessToken, err := access.SignedString(b.key)
	if err != nil {
		return authclient.TokenPair{}, err
	}
	refreshToken, err := refresh.SignedString(b.key)
	if err != nil {
		return authclient.TokenPair{}, err
	}

	b.mu.Lock()
	b.refresh[jti] = user.Email
	b.mu.Unlock()

	return authclient.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// rotate consumes a refresh token and returns the account it belongs to.
// Each refresh token can be used once.
func (b *Backend) rotate(token string) (account, error) {
	claims := &refreshClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return &b.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(b.issuer),
		jwt.WithTimeFunc(b.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Type != tokenTypeRefresh {
		return account{}, errInvalidRefreshToken
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.refresh[claims.ID]
	delete(b.refresh, claims.ID)
	acc, found := b.accounts[email]
	if !ok || !found {
		return account{}, errInvalidRefreshToken
	}
	return *acc, nil
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	b.refresh = map[string]string{}
	b.mu.Unlock()
}

// JWKS returns the public key set.
func (b *Backend) JWKS() JWKS {
	pub := b.key.PublicKey
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Kid: b.kid,
		Use: "sig",
		Alg: jwt.SigningMethodRS256.Alg(),
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}
