package authclient

import (
	"context"
)

// Persisted keys, shared with the browser build of the portal.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyOAuthState   = "oauth_state"
)

// Storage is a durable key/value store in the shape of browser local storage.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// StoredTokens is what TokenStore.Load returns. Empty strings mean absent.
type StoredTokens struct {
	Access  string
	Refresh string
}

// Complete reports whether both tokens are present.
func (t StoredTokens) Complete() bool {
	return t.Access != "" && t.Refresh != ""
}

// TokenStore persists the token pair and the OAuth state value. It is best
// effort: storage failures are logged and swallowed, the in-memory State of a
// Machine stays authoritative for the running session.
type TokenStore struct {
	storage   Storage
	namespace string
	logger    Logger
}

// TokenStoreOption customizes a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithStoreNamespace prefixes every key, so several instances can share one
// backend without reading each other's tokens.
func WithStoreNamespace(ns string) TokenStoreOption {
	return func(s *TokenStore) {
		s.namespace = SanitizeIdentifier(ns)
	}
}

// WithStoreLogger sets the logger used to report storage failures.
func WithStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTokenStore wraps storage. A nil storage yields a store that keeps
// nothing.
func NewTokenStore(storage Storage, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		storage: storage,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Save persists both tokens.
func (s *TokenStore) Save(ctx context.Context, access, refresh string) {
	s.set(ctx, KeyAccessToken, access)
	s.set(ctx, KeyRefreshToken, refresh)
}

// Load returns the stored tokens.
func (s *TokenStore) Load(ctx context.Context) StoredTokens {
	return StoredTokens{
		Access:  s.get(ctx, KeyAccessToken),
		Refresh: s.get(ctx, KeyRefreshToken),
	}
}

// Clear removes both tokens.
func (s *TokenStore) Clear(ctx context.Context) {
	s.remove(ctx, KeyAccessToken)
	s.remove(ctx, KeyRefreshToken)
}

// SaveOAuthState stores the anti-forgery value for a pending OAuth redirect.
func (s *TokenStore) SaveOAuthState(ctx context.Context, state string) {
	s.set(ctx, KeyOAuthState, state)
}

// OAuthState returns the pending anti-forgery value, empty when none.
func (s *TokenStore) OAuthState(ctx context.Context) string {
	return s.get(ctx, KeyOAuthState)
}

// ClearOAuthState removes the pending anti-forgery value.
func (s *TokenStore) ClearOAuthState(ctx context.Context) {
	s.remove(ctx, KeyOAuthState)
}

func (s *TokenStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *TokenStore) get(ctx context.Context, k string) string {
	if s == nil || s.storage == nil {
		return ""
	}
	v, ok, err := s.storage.GetItem(ctx, s.key(k))
	if err != nil {
		s.logger.Warn("token store read failed", "key", k, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func (s *TokenStore) set(ctx context.Context, k, v string) {
	if s == nil || s.storage == nil {
		return
	}
	if err := s.storage.SetItem(ctx, s.key(k), v); err != nil {
		s.logger.Warn("token store write failed", "key", k, "error", err)
	}
}

func (s *TokenStore) remove(ctx context.Context, k string) {
	if s == nil || s.storage == nil {
		return
	}
	if err := s.storage.RemoveItem(ctx, s.key(k)); err != nil {
		s.logger.Warn("token store remove failed", "key", k, "error", err)
	}
}
