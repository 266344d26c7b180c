package csrf

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionHeader = "X-Test-Session"

func newTestSecureKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

// withHeaderSession copies the session id from a request header into locals.
func withHeaderSession(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		if id := ctx.Header(sessionHeader); id != "" {
			ctx.Locals(DefaultSessionKey, id)
		}
		return next(ctx)
	}
}

func newTestApp(t *testing.T, cfg Config) *fiber.App {
	t.Helper()
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App { return a })
	mw := New(cfg)

	r := srv.Router()
	r.Get("/form", func(ctx router.Context) error {
		token, _ := ctx.Locals(DefaultContextKey).(string)
		return ctx.SendString(token)
	}, withHeaderSession, mw)
	r.Post("/submit", func(ctx router.Context) error {
		return ctx.SendString("submitted")
	}, withHeaderSession, mw)
	RegisterRoutes(r, RouteConfig{}, withHeaderSession, mw)

	return srv.WrappedRouter()
}

func fetchToken(t *testing.T, app *fiber.App, session string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/form", nil)
	req.Header.Set(sessionHeader, session)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	return string(body)
}

func submitForm(t *testing.T, app *fiber.App, session, token string) *http.Response {
	t.Helper()
	form := url.Values{"email": {"a@school.edu"}}
	if token != "" {
		form.Set(DefaultFormFieldName, token)
	}
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(sessionHeader, session)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func TestTokenValidationSuccess(t *testing.T) {
	app := newTestApp(t, Config{SecureKey: newTestSecureKey()})
	token := fetchToken(t, app, "session-a")

	res := submitForm(t, app, "session-a", token)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, "session-a")
	req.Header.Set(DefaultHeaderName, token)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestTokenValidationFailures(t *testing.T) {
	app := newTestApp(t, Config{SecureKey: newTestSecureKey()})
	token := fetchToken(t, app, "session-a")

	other := newTestApp(t, Config{SecureKey: []byte("fedcba9876543210fedcba9876543210")})
	foreign := fetchToken(t, other, "session-a")

	cases := map[string]struct {
		session string
		token   string
	}{
		"missing token":     {session: "session-a"},
		"tampered token":    {session: "session-a", token: "tampered"},
		"other session":     {session: "session-b", token: token},
		"other secure key":  {session: "session-a", token: foreign},
		"missing session":   {token: token},
		"truncated payload": {session: "session-a", token: base64.RawURLEncoding.EncodeToString([]byte("1:2:3"))},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := submitForm(t, app, tc.session, tc.token)
			assert.Equal(t, http.StatusForbidden, res.StatusCode)
		})
	}
}

func TestTokenExpiration(t *testing.T) {
	var captured error
	app := newTestApp(t, Config{
		SecureKey:  newTestSecureKey(),
		Expiration: time.Nanosecond,
		ErrorHandler: func(ctx router.Context, err error) error {
			captured = err
			return ctx.JSON(router.StatusForbidden, map[string]string{"error": err.Error()})
		},
	})
	token := fetchToken(t, app, "session-a")

	// timestamps have second precision
	time.Sleep(1100 * time.Millisecond)

	res := submitForm(t, app, "session-a", token)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.ErrorIs(t, captured, ErrTokenExpired)
}

func TestSkipBypassesValidation(t *testing.T) {
	app := newTestApp(t, Config{
		SecureKey: newTestSecureKey(),
		Skip:      func(ctx router.Context) bool { return ctx.Header("X-Internal") == "1" },
	})

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set("X-Internal", "1")
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestShortSecureKeyPanics(t *testing.T) {
	require.Panics(t, func() {
		New(Config{SecureKey: []byte("short")})
	})
}

func TestTokenRoute(t *testing.T) {
	app := newTestApp(t, Config{SecureKey: newTestSecureKey()})

	req := httptest.NewRequest(http.MethodGet, "/csrf", nil)
	req.Header.Set(sessionHeader, "session-a")
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "no-store, max-age=0", res.Header.Get("Cache-Control"))

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.NotEmpty(t, payload["token"])
	assert.Equal(t, DefaultFormFieldName, payload["field_name"])
	assert.Equal(t, DefaultHeaderName, payload["header_name"])

	assert.Equal(t, http.StatusOK, submitForm(t, app, "session-a", payload["token"]).StatusCode)
}

func TestRouteConfigOverride(t *testing.T) {
	conf := routeConfigDefault(RouteConfig{
		Path:       "/custom-csrf",
		ContextKey: "custom_token",
		RouteName:  "custom.csrf",
	})
	assert.Equal(t, "/custom-csrf", conf.Path)
	assert.Equal(t, "custom_token", conf.ContextKey)
	assert.Equal(t, "custom.csrf", conf.RouteName)

	conf = routeConfigDefault(RouteConfig{})
	assert.Equal(t, defaultRoutePath, conf.Path)
	assert.Equal(t, DefaultContextKey, conf.ContextKey)
}
