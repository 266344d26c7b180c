package authclient

import (
	"context"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// PublicKeys is a fetched JWKS. It refreshes itself in the background every
// KeyCacheTTL and when a token references an unknown kid.
type PublicKeys struct {
	jwks      *keyfunc.JWKS
	fetchedAt time.Time
	expiresAt time.Time
}

// Keyfunc resolves the verification key for token.
func (k *PublicKeys) Keyfunc(token *jwt.Token) (any, error) {
	return k.jwks.Keyfunc(token)
}

// KIDs lists the key ids currently known.
func (k *PublicKeys) KIDs() []string {
	return k.jwks.KIDs()
}

// FetchedAt returns when the key set was first fetched.
func (k *PublicKeys) FetchedAt() time.Time {
	return k.fetchedAt
}

// KeySource provides signing keys and lets callers drop a stale set.
type KeySource interface {
	FetchPublicKey(ctx context.Context) (*PublicKeys, error)
	InvalidatePublicKey()
}

var _ KeySource = (*Service)(nil)

// FetchPublicKey returns the identity provider signing keys. The set is
// cached for KeyCacheTTL, after which the next call fetches it again.
func (s *Service) FetchPublicKey(ctx context.Context) (*PublicKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail("fetch_public_key", newError(ErrPublicKeyUnavailable, "", err))
	}

	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	now := time.Now()
	if s.keys != nil && now.Before(s.keys.expiresAt) {
		return s.keys, nil
	}
	if s.keys != nil {
		s.keys.jwks.EndBackground()
		s.keys = nil
	}

	jwks, err := keyfunc.Get(s.config.JWKSURL, keyfunc.Options{
		Client:            s.httpClient,
		RefreshInterval:   s.config.KeyCacheTTL,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    s.httpClient.Timeout,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			s.logger.Warn("jwks background refresh failed", "url", s.config.JWKSURL, "error", err)
		},
	})
	if err != nil {
		return nil, s.fail("fetch_public_key", newError(ErrPublicKeyUnavailable, "", err))
	}

	s.keys = &PublicKeys{
		jwks:      jwks,
		fetchedAt: now,
		expiresAt: now.Add(s.config.KeyCacheTTL),
	}
	s.logger.Debug("jwks fetched", "url", s.config.JWKSURL, "keys", jwks.Len())
	return s.keys, nil
}

// InvalidatePublicKey drops the cached key set.
func (s *Service) InvalidatePublicKey() {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if s.keys != nil {
		s.keys.jwks.EndBackground()
		s.keys = nil
	}
}
