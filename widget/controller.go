package widget

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/middleware/csrf"
	"github.com/goliatone/go-router"
)

// Widget actions, used as the last path segment of a widget route.
const (
	ActionState            = "state"
	ActionLogin            = "login"
	ActionRegister         = "register"
	ActionVerify           = "verify"
	ActionSendVerification = "send-verification"
	ActionRefresh          = "refresh"
	ActionLogout           = "logout"
	ActionOAuth            = "oauth"
	ActionCallback         = "callback"
	ActionToken            = "token"
)

// ViewName is the template rendered for the widget root.
const ViewName = "widget"

// DefaultProviders are the OAuth providers offered by the login view.
var DefaultProviders = []string{"google", "github", "microsoft"}

// ControllerConfig configures the widget HTTP controller.
type ControllerConfig struct {
	// ContainerID is the element the controller is mounted on.
	ContainerID string

	// Theme is passed to the view.
	Theme string

	// SuccessRedirect is where an OAuth callback lands after login
	// (default: BasePath).
	SuccessRedirect string

	// ErrorRedirect is where a failed OAuth callback lands (default: BasePath).
	ErrorRedirect string

	// BasePath is the widget root URL, used by the view to build form actions.
	BasePath string

	// Providers lists the OAuth providers rendered in the view.
	Providers []string

	// Session configures the browser session cookie.
	Session SessionConfig
}

// Controller serves one widget instance. It implements View. Every browser
// gets its own Session, picked by the session cookie.
type Controller struct {
	sessions *Sessions
	codec    *authclient.Codec
	config   ControllerConfig
	logger   authclient.Logger
	routes   map[string]router.HandlerFunc
}

var _ View = (*Controller)(nil)

// NewController returns a controller serving the sessions of one widget.
func NewController(sessions *Sessions, cfg ControllerConfig, logger authclient.Logger) *Controller {
	if cfg.BasePath == "" {
		cfg.BasePath = "/" + cfg.ContainerID
	}
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = cfg.BasePath
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = cfg.BasePath
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders
	}
	if logger == nil {
		logger = nopLogger{}
	}

	cfg.Session = sessionConfigDefault(cfg.Session)

	c := &Controller{
		sessions: sessions,
		codec:    authclient.NewCodec(),
		config:   cfg,
		logger:   logger,
	}
	c.routes = map[string]router.HandlerFunc{
		routeKey(http.MethodGet, ""):                      c.Index,
		routeKey(http.MethodGet, ActionState):             c.State,
		routeKey(http.MethodPost, ActionLogin):            c.Login,
		routeKey(http.MethodPost, ActionRegister):         c.Register,
		routeKey(http.MethodPost, ActionVerify):           c.Verify,
		routeKey(http.MethodPost, ActionSendVerification): c.SendVerification,
		routeKey(http.MethodPost, ActionRefresh):          c.Refresh,
		routeKey(http.MethodPost, ActionLogout):           c.Logout,
		routeKey(http.MethodDelete, ""):                   c.Logout,
		routeKey(http.MethodGet, ActionOAuth):             c.BeginOAuth,
		routeKey(http.MethodGet, ActionCallback):          c.OAuthCallback,
		routeKey(http.MethodGet, ActionToken):             c.Token,
	}
	return c
}

func routeKey(method, action string) string {
	return method + " " + action
}

// Handler implements View.
func (c *Controller) Handler(method, action string) (router.HandlerFunc, bool) {
	h, ok := c.routes[routeKey(strings.ToUpper(method), action)]
	return h, ok
}

// StateView is the JSON shape of the widget state. Tokens are never exposed.
type StateView struct {
	Authenticated bool             `json:"authenticated"`
	User          *authclient.User `json:"user,omitempty"`
	DisplayName   string           `json:"displayName,omitempty"`
	IsLoading     bool             `json:"isLoading"`
	Error         string           `json:"error,omitempty"`
	Notice        string           `json:"notice,omitempty"`
	ExpiresIn     int64            `json:"expiresIn,omitempty"`
}

func (c *Controller) view(state authclient.State) StateView {
	out := StateView{
		Authenticated: state.IsAuthenticated(),
		User:          state.User,
		DisplayName:   state.User.DisplayName(),
		IsLoading:     state.IsLoading,
		Error:         state.Error,
		Notice:        state.Notice,
	}
	if out.Authenticated && state.AccessToken != "" {
		out.ExpiresIn = int64(c.codec.ExpiresIn(state.AccessToken).Seconds())
	}
	return out
}

func (c *Controller) respond(ctx router.Context, state authclient.State) error {
	return ctx.JSON(router.StatusOK, c.view(state))
}

// session resolves the Session of the requesting browser.
func (c *Controller) session(ctx router.Context) *Session {
	return c.sessions.Acquire(ctx.Context(), ensureSession(ctx, c.config.Session))
}

func (c *Controller) machine(ctx router.Context) *authclient.Machine {
	return c.session(ctx).Machine()
}

// Index renders the widget.
func (c *Controller) Index(ctx router.Context) error {
	state := c.view(c.machine(ctx).State())
	return ctx.Render(ViewName, router.ViewContext{
		"id":        c.config.ContainerID,
		"base_path": c.config.BasePath,
		"theme":     c.config.Theme,
		"classes":   strings.Join(classesFromLocals(ctx), " "),
		"providers": c.config.Providers,
		"csrf":      csrf.TemplateHelpers(ctx, csrf.DefaultContextKey),
		"state": map[string]any{
			"authenticated": state.Authenticated,
			"display_name":  state.DisplayName,
			"role":          roleOf(state.User),
			"email":         emailOf(state.User),
			"error":         state.Error,
			"notice":        state.Notice,
		},
	})
}

// State returns the current state as JSON.
func (c *Controller) State(ctx router.Context) error {
	return c.respond(ctx, c.machine(ctx).State())
}

type loginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Login signs the user in.
func (c *Controller) Login(ctx router.Context) error {
	payload := new(loginPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}
	return c.login(ctx, *payload)
}

func (c *Controller) login(ctx router.Context, payload loginPayload) error {
	return c.respond(ctx, c.machine(ctx).Login(ctx.Context(), payload.Email, payload.Password))
}

type registerPayload struct {
	Email     string `form:"email" json:"email"`
	Password  string `form:"password" json:"password"`
	Role      string `form:"role" json:"role"`
	Username  string `form:"username" json:"username"`
	FirstName string `form:"first_name" json:"firstName"`
	LastName  string `form:"last_name" json:"lastName"`
}

// Register creates an account.
func (c *Controller) Register(ctx router.Context) error {
	payload := new(registerPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}
	return c.register(ctx, *payload)
}

func (c *Controller) register(ctx router.Context, payload registerPayload) error {
	req := authclient.RegisterRequest{
		Email:     payload.Email,
		Password:  payload.Password,
		Username:  payload.Username,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	}
	if payload.Role != "" {
		role, ok := authclient.ParseRole(payload.Role)
		if !ok {
			role = authclient.Role(payload.Role)
		}
		req.Role = role
	}
	return c.respond(ctx, c.machine(ctx).Register(ctx.Context(), req))
}

type verifyPayload struct {
	Email string `form:"email" json:"email"`
	Code  string `form:"code" json:"code"`
}

// Verify redeems an email verification code.
func (c *Controller) Verify(ctx router.Context) error {
	payload := new(verifyPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}
	return c.verify(ctx, *payload)
}

func (c *Controller) verify(ctx router.Context, payload verifyPayload) error {
	return c.respond(ctx, c.machine(ctx).VerifyEmail(ctx.Context(), payload.Email, payload.Code))
}

// SendVerification asks for a new verification code.
func (c *Controller) SendVerification(ctx router.Context) error {
	payload := new(verifyPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}
	return c.sendVerification(ctx, *payload)
}

func (c *Controller) sendVerification(ctx router.Context, payload verifyPayload) error {
	return c.respond(ctx, c.machine(ctx).SendVerificationEmail(ctx.Context(), payload.Email))
}

// Refresh rotates the token pair. A failed refresh logs the user out.
func (c *Controller) Refresh(ctx router.Context) error {
	m := c.machine(ctx)
	if _, err := m.RefreshToken(ctx.Context()); err != nil {
		c.logger.Info("widget refresh failed", "container", c.config.ContainerID, "error", err)
	}
	return c.respond(ctx, m.State())
}

// Logout ends the session.
func (c *Controller) Logout(ctx router.Context) error {
	m := c.machine(ctx)
	m.Logout(ctx.Context())
	return c.respond(ctx, m.State())
}

// BeginOAuth redirects to the identity provider authorization endpoint.
func (c *Controller) BeginOAuth(ctx router.Context) error {
	provider := strings.ToLower(ctx.Param("provider"))
	sess := c.session(ctx)

	target, err := sess.Machine().Service().InitiateOAuthLogin(ctx.Context(), provider)
	if err != nil {
		msg := authclient.ErrorMessage(err, "OAuth login failed")
		sess.Machine().Dispatch(authclient.LoginFailure{Message: msg})
		return ctx.JSON(router.StatusBadRequest, map[string]string{"error": msg})
	}

	sess.setPendingProvider(provider)
	return ctx.Redirect(target, http.StatusTemporaryRedirect)
}

// OAuthCallback completes the OAuth flow and redirects back to the widget.
func (c *Controller) OAuthCallback(ctx router.Context) error {
	sess := c.session(ctx)

	if errCode := ctx.Query("error", ""); errCode != "" {
		msg := ctx.Query("error_description", "OAuth login failed")
		sess.Machine().Dispatch(authclient.LoginFailure{Message: authclient.SanitizeInput(msg, 200)})
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode), http.StatusTemporaryRedirect)
	}

	code := ctx.Query("code", "")
	state := ctx.Query("state", "")
	if code == "" || state == "" {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", "missing_params"), http.StatusTemporaryRedirect)
	}

	provider := ctx.Query("provider", "")
	if provider == "" {
		provider = sess.takePendingProvider()
	}

	result := sess.Machine().HandleOAuthCallback(ctx.Context(), provider, code, state)
	if result.Error != "" {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", "auth_failed"), http.StatusTemporaryRedirect)
	}

	sess.setPendingProvider("")
	return ctx.Redirect(c.config.SuccessRedirect, http.StatusTemporaryRedirect)
}

// Token returns the decoded access token claims. Admin only.
func (c *Controller) Token(ctx router.Context) error {
	state := c.machine(ctx).State()
	if !state.IsAuthenticated() {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}
	if state.User.Role != authclient.RoleAdmin {
		return ctx.JSON(router.StatusForbidden, map[string]string{"error": "admin role required"})
	}

	claims, err := c.codec.Claims(state.AccessToken)
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{"error": authclient.ErrorMessage(err, "Invalid token")})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"claims":    claims,
		"isLive":    c.codec.IsLive(state.AccessToken),
		"expiresIn": int64(c.codec.ExpiresIn(state.AccessToken).Seconds()),
	})
}

func (c *Controller) badRequest(ctx router.Context, err error) error {
	c.logger.Warn("widget request parse failed", "container", c.config.ContainerID, "error", err)
	return ctx.JSON(router.StatusBadRequest, map[string]string{"error": "Invalid request body"})
}

func classesFromLocals(ctx router.Context) []string {
	classes, _ := ctx.Locals(LocalsClassesKey).([]string)
	return classes
}

func roleOf(u *authclient.User) string {
	if u == nil {
		return ""
	}
	return string(u.Role)
}

func emailOf(u *authclient.User) string {
	if u == nil {
		return ""
	}
	return u.Email
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
