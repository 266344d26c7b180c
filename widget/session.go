package widget

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/middleware/csrf"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	// SessionCookieName identifies the browser session of a widget visitor.
	SessionCookieName = "ist_auth_sid"
	// LocalsSessionKey is the router locals key holding the session id.
	LocalsSessionKey = csrf.DefaultSessionKey
	// DefaultSessionLimit bounds the in memory sessions of one widget.
	DefaultSessionLimit = 1024
)

// SessionConfig configures the browser session cookie.
type SessionConfig struct {
	CookieName string
	Path       string
	Secure     bool
	// MaxAge in seconds, zero for a browser session cookie.
	MaxAge int
}

func sessionConfigDefault(cfg SessionConfig) SessionConfig {
	if cfg.CookieName == "" {
		cfg.CookieName = SessionCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return cfg
}

// SessionMiddleware makes sure every request carries a browser session id,
// issuing the cookie when the request has none or a malformed one.
func SessionMiddleware(cfg SessionConfig) router.MiddlewareFunc {
	cfg = sessionConfigDefault(cfg)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ensureSession(ctx, cfg)
			return next(ctx)
		}
	}
}

func ensureSession(ctx router.Context, cfg SessionConfig) string {
	if id, ok := ctx.Locals(LocalsSessionKey).(string); ok && id != "" {
		return id
	}

	cfg = sessionConfigDefault(cfg)
	parsed, err := uuid.Parse(ctx.Cookies(cfg.CookieName))
	id := parsed.String()
	if err != nil {
		id = uuid.NewString()
		ctx.Cookie(&router.Cookie{
			Name:     cfg.CookieName,
			Value:    id,
			Path:     cfg.Path,
			MaxAge:   cfg.MaxAge,
			Secure:   cfg.Secure,
			HTTPOnly: true,
			SameSite: router.CookieSameSiteLaxMode,
		})
	}
	ctx.Locals(LocalsSessionKey, id)
	return id
}

// SessionFactory builds the state machine of one browser session. The
// returned func releases it.
type SessionFactory func(id string) (*authclient.Machine, func())

// Session is the auth state of one browser visiting a widget.
type Session struct {
	id      string
	machine *authclient.Machine
	release func()
	boot    sync.Once

	// guarded by Sessions.mu
	lastSeen time.Time

	mu              sync.Mutex
	pendingProvider string
}

// ID returns the browser session id.
func (s *Session) ID() string {
	return s.id
}

// Machine returns the session state machine.
func (s *Session) Machine() *authclient.Machine {
	return s.machine
}

func (s *Session) setPendingProvider(provider string) {
	s.mu.Lock()
	s.pendingProvider = provider
	s.mu.Unlock()
}

func (s *Session) takePendingProvider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingProvider
}

// Sessions keeps the sessions of one widget, keyed by browser session id.
// The least recently used session is released once the limit is reached;
// its tokens stay in storage and are restored on the next request.
type Sessions struct {
	factory SessionFactory
	limit   int
	logger  authclient.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Session
}

// NewSessions returns an empty pool. limit <= 0 uses DefaultSessionLimit.
func NewSessions(factory SessionFactory, limit int, logger authclient.Logger) *Sessions {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Sessions{
		factory: factory,
		limit:   limit,
		logger:  logger,
		now:     time.Now,
		entries: map[string]*Session{},
	}
}

// Acquire returns the session for id, creating it and restoring any stored
// tokens on first use.
func (s *Sessions) Acquire(ctx context.Context, id string) *Session {
	s.mu.Lock()
	sess, ok := s.entries[id]
	if !ok {
		machine, release := s.factory(id)
		sess = &Session{id: id, machine: machine, release: release}
		s.entries[id] = sess
	}
	sess.lastSeen = s.now()
	evicted := s.evictLocked(id)
	s.mu.Unlock()

	for _, old := range evicted {
		s.logger.Debug("widget session evicted", "session", old.id)
		old.close()
	}

	sess.boot.Do(func() {
		sess.machine.Bootstrap(ctx)
	})
	return sess
}

func (s *Sessions) evictLocked(keep string) []*Session {
	var evicted []*Session
	for len(s.entries) > s.limit {
		var oldest *Session
		for id, sess := range s.entries {
			if id == keep {
				continue
			}
			if oldest == nil || sess.lastSeen.Before(oldest.lastSeen) {
				oldest = sess
			}
		}
		if oldest == nil {
			break
		}
		delete(s.entries, oldest.id)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close releases every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = map[string]*Session{}
	s.mu.Unlock()

	for _, sess := range entries {
		sess.close()
	}
}

func (s *Session) close() {
	if s.release != nil {
		s.release()
	}
}
