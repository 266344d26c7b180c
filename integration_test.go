package authclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func startBackend(t *testing.T) (*demo.Backend, *httptest.Server) {
	t.Helper()
	backend, err := demo.NewBackend(demo.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, srv
}

func newClient(t *testing.T, srv *httptest.Server, opts ...authclient.MachineOption) *authclient.Machine {
	t.Helper()
	svc := authclient.NewService(authclient.ServiceConfig{
		BaseURL:     srv.URL + demo.APIPrefix,
		RedirectURI: "http://widget.local/callback",
	}, authclient.WithServiceLogger(nopLogger{}))
	t.Cleanup(svc.Close)

	store := authclient.NewTokenStore(authclient.NewMemoryStorage(), authclient.WithStoreLogger(nopLogger{}))
	opts = append([]authclient.MachineOption{authclient.WithMachineLogger(nopLogger{})}, opts...)
	return authclient.NewMachine(svc, store, opts...)
}

func TestDemoLoginAsAdmin(t *testing.T) {
	_, srv := startBackend(t)
	m := newClient(t, srv)

	state := m.Login(context.Background(), "admin@school.edu", "admin123")
	require.True(t, state.IsAuthenticated())
	assert.Equal(t, authclient.RoleAdmin, state.User.Role)
	assert.False(t, state.IsLoading)
	assert.Empty(t, state.Error)
}

func TestDemoLoginWrongPassword(t *testing.T) {
	_, srv := startBackend(t)
	m := newClient(t, srv)

	state := m.Login(context.Background(), "admin@school.edu", "wrong")
	assert.False(t, state.IsAuthenticated())
	assert.Equal(t, "Invalid email or password", state.Error)
}

func TestDemoRefreshRotatesTokens(t *testing.T) {
	ctx := context.Background()
	_, srv := startBackend(t)
	m := newClient(t, srv)

	before := m.Login(ctx, "student@school.edu", "student123")
	require.True(t, before.IsAuthenticated())

	pair, err := m.RefreshToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.RefreshToken, pair.RefreshToken)
	assert.Equal(t, pair.AccessToken, m.State().AccessToken)
	assert.Equal(t, authclient.RoleStudent, m.State().User.Role)
}

func TestDemoRevokedRefreshLogsOut(t *testing.T) {
	ctx := context.Background()
	backend, srv := startBackend(t)
	m := newClient(t, srv)

	require.True(t, m.Login(ctx, "teacher@school.edu", "teacher123").IsAuthenticated())
	backend.RevokeRefreshTokens()

	_, err := m.RefreshToken(ctx)
	assert.True(t, authclient.IsError(err, authclient.ErrInvalidRefreshToken))
	assert.False(t, m.State().IsAuthenticated())
	assert.Equal(t, authclient.StoredTokens{}, m.Store().Load(ctx))
}

func TestDemoRegisterThenVerify(t *testing.T) {
	ctx := context.Background()
	_, srv := startBackend(t)
	m := newClient(t, srv)

	state := m.Register(ctx, authclient.RegisterRequest{Email: "new.student@school.edu", Password: "password123"})
	require.Empty(t, state.Error)
	assert.False(t, state.IsAuthenticated())
	assert.NotEmpty(t, state.Notice)

	state = m.SendVerificationEmail(ctx, "new.student@school.edu")
	assert.Empty(t, state.Error)
	assert.Contains(t, state.Notice, "new.student@school.edu")
}

func TestDemoOAuthFlow(t *testing.T) {
	ctx := context.Background()
	_, srv := startBackend(t)
	m := newClient(t, srv)

	authURL, err := m.Service().InitiateOAuthLogin(ctx, "google")
	require.NoError(t, err)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "widget.local", callback.Host)

	state := m.HandleOAuthCallback(ctx, "google", callback.Query().Get("code"), callback.Query().Get("state"))
	require.True(t, state.IsAuthenticated(), state.Error)
	assert.Equal(t, "google.user@school.edu", state.User.Email)

	replay := m.HandleOAuthCallback(ctx, "google", callback.Query().Get("code"), callback.Query().Get("state"))
	assert.NotEmpty(t, replay.Error)
}

func TestDemoBootstrapVerifiesSignature(t *testing.T) {
	ctx := context.Background()
	backend, srv := startBackend(t)

	user, ok := backend.Account("admin@school.edu")
	require.True(t, ok)
	pair, err := backend.IssueTokens(user)
	require.NoError(t, err)

	svc := authclient.NewService(authclient.ServiceConfig{BaseURL: srv.URL + demo.APIPrefix}, authclient.WithServiceLogger(nopLogger{}))
	t.Cleanup(svc.Close)
	validator := authclient.NewJWKSValidator(svc, authclient.WithIssuer(demo.DefaultIssuer))

	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	store.Save(ctx, pair.AccessToken, pair.RefreshToken)

	m := authclient.NewMachine(svc, store, authclient.WithValidator(validator), authclient.WithMachineLogger(nopLogger{}))
	state := m.Bootstrap(ctx)
	require.True(t, state.IsAuthenticated())
	assert.Equal(t, authclient.RoleAdmin, state.User.Role)
	assert.Equal(t, pair.AccessToken, state.AccessToken)
}
