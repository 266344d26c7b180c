// Package demo is an in-process identity provider speaking the portal wire
// protocol. It backs tests and the development server and is not meant for
// production use.
package demo

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/hashid/pkg/hashid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultIssuer           = "school-management-idp"
	DefaultVerificationCode = "123456"
	APIPrefix               = "/api"
	JWKSPath                = "/.well-known/jwks.json"
)

// Seed is a demo account created at startup.
type Seed struct {
	Email     string
	Username  string
	Password  string
	Role      authclient.Role
	FirstName string
	LastName  string
}

// DefaultSeeds returns the three portal demo accounts.
func DefaultSeeds() []Seed {
	return []Seed{
		{Email: "admin@school.edu", Password: "admin123", Role: authclient.RoleAdmin, FirstName: "Admin", LastName: "User"},
		{Email: "teacher@school.edu", Password: "teacher123", Role: authclient.RoleTeacher, FirstName: "John", LastName: "Teacher"},
		{Email: "student@school.edu", Password: "student123", Role: authclient.RoleStudent, FirstName: "Jane", LastName: "Student"},
	}
}

type account struct {
	user         authclient.User
	passwordHash string
}

// Backend is the demo identity provider.
type Backend struct {
	app *fiber.App

	key    *rsa.PrivateKey
	kid    string
	issuer string

	accessTTL        time.Duration
	refreshTTL       time.Duration
	verificationCode string
	bcryptCost       int
	seeds            []Seed
	now              func() time.Time
	logger           authclient.Logger

	mu       sync.Mutex
	accounts map[string]*account
	refresh  map[string]string
	codes    map[string]string
}

// Option customizes a Backend.
type Option func(*Backend)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = ttl
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.refreshTTL = ttl
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(b *Backend) {
		if clock != nil {
			b.now = clock
		}
	}
}

// WithSigningKey sets the RS256 key and its kid.
func WithSigningKey(key *rsa.PrivateKey, kid string) Option {
	return func(b *Backend) {
		if key != nil {
			b.key = key
			b.kid = kid
		}
	}
}

// WithSeeds replaces the demo accounts.
func WithSeeds(seeds ...Seed) Option {
	return func(b *Backend) {
		b.seeds = seeds
	}
}

// WithBcryptCost sets the cost used to hash passwords.
func WithBcryptCost(cost int) Option {
	return func(b *Backend) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			b.bcryptCost = cost
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger authclient.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackend creates a backend with the demo accounts already registered and
// verified.
func NewBackend(opts ...Option) (*Backend, error) {
	b := &Backend{
		issuer:           DefaultIssuer,
		kid:              "demo-key",
		accessTTL:        DefaultAccessTTL,
		refreshTTL:       DefaultRefreshTTL,
		verificationCode: DefaultVerificationCode,
		bcryptCost:       bcrypt.DefaultCost,
		seeds:            DefaultSeeds(),
		now:              time.Now,
		logger:           nopLogger{},
		accounts:         map[string]*account{},
		refresh:          map[string]string{},
		codes:            map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if b.key == nil {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		b.key = key
	}

	for _, seed := range b.seeds {
		if err := b.addAccount(seed, true); err != nil {
			return nil, err
		}
	}

	b.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          b.errorHandler,
	})
	b.routes()
	return b, nil
}

// App returns the fiber application serving the backend.
func (b *Backend) App() *fiber.App {
	return b.app
}

// Handler exposes the backend as a net/http handler.
func (b *Backend) Handler() http.Handler {
	return adaptor.FiberApp(b.app)
}

// PublicKey returns the token verification key.
func (b *Backend) PublicKey() *rsa.PublicKey {
	return &b.key.PublicKey
}

// Account returns a copy of the account registered for email.
func (b *Backend) Account(email string) (authclient.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok {
		return authclient.User{}, false
	}
	return acc.user, true
}

func (b *Backend) addAccount(seed Seed, verified bool) error {
	email := normalizeEmail(seed.Email)
	hash, err := hashPassword(seed.Password, b.bcryptCost)
	if err != nil {
		return err
	}

	username := seed.Username
	if username == "" {
		username = localPart(email)
	}

	id, err := hashid.NewUUID(email)
	if err != nil {
		return err
	}

	acc := &account{
		user: authclient.User{
			ID:            id.String(),
			Email:         email,
			Role:          seed.Role,
			Username:      username,
			FirstName:     seed.FirstName,
			LastName:      seed.LastName,
			EmailVerified: verified,
			CreatedAt:     b.now().UTC().Format(time.RFC3339),
		},
		passwordHash: hash,
	}

	b.mu.Lock()
	b.accounts[email] = acc
	b.mu.Unlock()
	return nil
}

// lookup finds an account by email or username and returns a copy.
func (b *Backend) lookup(identifier string) (account, bool) {
	identifier = normalizeEmail(identifier)

	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[identifier]; ok {
		return *acc, true
	}
	for _, acc := range b.accounts {
		if strings.EqualFold(acc.user.Username, identifier) {
			return *acc, true
		}
	}
	return account{}, false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
