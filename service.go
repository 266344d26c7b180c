package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultBaseURL          = "http://localhost:8080/api"
	DefaultClientID         = "school-management-app"
	DefaultVerificationCode = "123456"
	DefaultKeyCacheTTL      = time.Hour

	minPasswordLength = 8
	maxEmailLength    = 254
	maxResponseBytes  = 1 << 20
)

// ServiceConfig configures a Service. Each widget or application builds its
// own Service, callbacks are never shared between instances.
type ServiceConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// JWKSURL defaults to {origin of BaseURL}/.well-known/jwks.json.
	JWKSURL string
	// KeyCacheTTL bounds how long fetched signing keys are trusted.
	KeyCacheTTL time.Duration

	// DemoVerificationCode gates VerifyEmail locally. Ignored when
	// VerifyWithServer is set.
	DemoVerificationCode string
	VerifyWithServer     bool

	// OnSuccess runs after every call that produced tokens.
	OnSuccess func(TokenPair)
	// OnError runs with the user facing message before a failure is returned.
	OnError func(message string)
}

// Service is the boundary to the identity provider.
type Service struct {
	config     ServiceConfig
	httpClient *http.Client
	logger     Logger
	store      *TokenStore
	codec      *Codec

	keysMu sync.Mutex
	keys   *PublicKeys
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceStore sets the store used to persist the OAuth state value.
func WithServiceStore(store *TokenStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithServiceCodec sets the codec used to decode tokens returned by OAuth.
func WithServiceCodec(codec *Codec) ServiceOption {
	return func(s *Service) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// NewService returns a configured Service.
func NewService(cfg ServiceConfig, opts ...ServiceOption) *Service {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = DefaultKeyCacheTTL
	}
	if cfg.DemoVerificationCode == "" {
		cfg.DemoVerificationCode = DefaultVerificationCode
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = originOf(cfg.BaseURL) + "/.well-known/jwks.json"
	}

	s := &Service{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     defLogger{},
		codec:      NewCodec(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.store == nil {
		s.store = NewTokenStore(NewMemoryStorage(), WithStoreLogger(s.logger))
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// Close releases background resources held by the service.
func (s *Service) Close() {
	s.InvalidatePublicKey()
}

type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Login exchanges credentials for a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	res, err := s.postJSON(ctx, "/auth/login", loginRequest{
		EmailOrUsername: strings.TrimSpace(email),
		Password:        password,
	})
	if err != nil {
		return nil, s.fail("login", err)
	}
	if !res.ok() {
		msg := res.errorMessage(ErrInvalidCredentials.Message)
		return nil, s.fail("login", newError(ErrInvalidCredentials, msg, nil))
	}

	out := &LoginResponse{}
	if err := res.decode(out); err != nil {
		return nil, s.fail("login", err)
	}
	if err := validateLoginResponse(out); err != nil {
		return nil, s.fail("login", err)
	}

	s.succeed(out.Tokens())
	return out, nil
}

// Register creates an account. The account must be verified before it can
// sign in, so no tokens are returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Role == "" {
		req.Role = RoleStudent
	}
	if err := validateRegisterRequest(req); err != nil {
		return nil, s.fail("register", err)
	}

	local := localPart(req.Email)
	if req.Username == "" {
		req.Username = local
	}
	if req.FirstName == "" {
		req.FirstName = capitalize(local)
	}
	if req.LastName == "" {
		req.LastName = "User"
	}

	res, err := s.postJSON(ctx, "/auth/register", registerRequest{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      strings.ToUpper(string(req.Role)),
	})
	if err != nil {
		return nil, s.fail("register", err)
	}
	if !res.ok() {
		msg := res.errorMessage(ErrRegistrationFailed.Message)
		return nil, s.fail("register", newError(ErrRegistrationFailed, msg, nil))
	}

	var body statusResponse
	_ = json.Unmarshal(res.body, &body)

	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		msg = "Registration successful. Please check your email to verify your account."
	}
	return &RegisterResult{RequiresVerification: true, Message: msg}, nil
}

// RefreshToken exchanges a refresh token for a new pair. Any failure other
// than a transport error is reported as ErrInvalidRefreshToken.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, s.fail("refresh", newError(ErrInvalidRefreshToken, "", nil))
	}

	res, err := s.postJSON(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, s.fail("refresh", err)
	}
	if !res.ok() {
		return nil, s.fail("refresh", newError(ErrInvalidRefreshToken, "", nil))
	}

	pair := &TokenPair{}
	if err := json.Unmarshal(res.body, pair); err != nil {
		return nil, s.fail("refresh", newError(ErrInvalidRefreshToken, "", err))
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, s.fail("refresh", newError(ErrInvalidRefreshToken, "", nil))
	}

	s.succeed(*pair)
	return pair, nil
}

// SendVerificationEmail asks the identity provider to issue a verification
// code and returns its message.
func (s *Service) SendVerificationEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return "", s.fail("send_verification", err)
	}

	res, err := s.postJSON(ctx, "/send-verification", emailRequest{Email: email})
	if err != nil {
		return "", s.fail("send_verification", err)
	}

	var body statusResponse
	if derr := json.Unmarshal(res.body, &body); derr != nil && res.ok() {
		return "", s.fail("send_verification", newError(ErrInvalidResponse, "", derr))
	}
	if !res.ok() || !body.Success {
		msg := res.errorMessage(ErrVerificationFailed.Message)
		if body.Message != "" {
			msg = body.Message
		}
		return "", s.fail("send_verification", newError(ErrVerificationFailed, msg, nil))
	}

	if body.Message == "" {
		body.Message = "Verification code sent to " + email
	}
	return body.Message, nil
}

// VerifyEmail redeems a verification code.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (string, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	err := validation.Errors{
		"email": validation.Validate(email, validation.Required, is.EmailFormat),
		"code": validation.Validate(code,
			validation.Required.Error("Verification code is required"),
			validation.Length(6, 6).Error("Verification code must be 6 digits"),
			is.Digit.Error("Verification code must be 6 digits"),
		),
	}.Filter()
	if err != nil {
		return "", s.fail("verify_email", newError(ErrValidation, validationMessage(err), err))
	}

	if !s.config.VerifyWithServer {
		if !TimingSafeEqual(code, s.config.DemoVerificationCode) {
			return "", s.fail("verify_email", newError(ErrInvalidVerificationCode, "Invalid verification code. Please try again.", nil))
		}
		return "Email verified successfully", nil
	}

	res, err := s.postJSON(ctx, "/verify-email", emailRequest{Email: email, Code: code})
	if err != nil {
		return "", s.fail("verify_email", err)
	}
	var body statusResponse
	_ = json.Unmarshal(res.body, &body)
	if !res.ok() || !body.Success {
		msg := res.errorMessage(ErrInvalidVerificationCode.Message)
		if body.Message != "" {
			msg = body.Message
		}
		return "", s.fail("verify_email", newError(ErrInvalidVerificationCode, msg, nil))
	}
	if body.Message == "" {
		body.Message = "Email verified successfully"
	}
	return body.Message, nil
}

func (s *Service) succeed(pair TokenPair) {
	if s.config.OnSuccess != nil {
		s.config.OnSuccess(pair)
	}
}

// fail reports err through OnError and returns it unchanged.
func (s *Service) fail(op string, err error) error {
	msg := ErrorMessage(err, "Authentication failed")

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		s.logger.Warn("auth service call failed",
			"operation", op,
			"text_code", richErr.TextCode,
			"error", SanitizeLogMessage(msg),
		)
	} else {
		s.logger.Warn("auth service call failed", "operation", op, "error", SanitizeLogMessage(msg))
	}

	if s.config.OnError != nil {
		s.config.OnError(msg)
	}
	return err
}

type httpResult struct {
	status int
	body   []byte
}

func (r *httpResult) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *httpResult) errorMessage(def string) string {
	var body errorResponse
	if err := json.Unmarshal(r.body, &body); err == nil {
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
	}
	return def
}

func (r *httpResult) decode(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return newError(ErrInvalidResponse, "", err)
	}
	return nil
}

func (s *Service) postJSON(ctx context.Context, path string, payload any) (*httpResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.config.ClientID != "" {
		req.Header.Set("X-Client-Id", s.config.ClientID)
	}

	return s.send(req)
}

func (s *Service) postForm(ctx context.Context, path string, form url.Values) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return s.send(req)
}

func (s *Service) send(req *http.Request) (*httpResult, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrNetwork, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(ErrNetwork, "", err)
	}
	return &httpResult{status: resp.StatusCode, body: data}, nil
}

func validateLoginResponse(out *LoginResponse) error {
	if out.User == nil || out.AccessToken == "" || out.RefreshToken == "" {
		return newError(ErrInvalidResponse, "", nil)
	}
	role, ok := ParseRole(string(out.User.Role))
	if !ok {
		return newError(ErrInvalidResponse, "Unknown role in login response", nil)
	}
	out.User.Role = role
	return nil
}

func validateEmail(email string) error {
	err := validation.Validate(email,
		validation.Required.Error("Email is required"),
		validation.Length(3, maxEmailLength).Error("Email is too long"),
		is.EmailFormat.Error("Please enter a valid email address"),
	)
	if err != nil {
		return newError(ErrValidation, err.Error(), err)
	}
	return nil
}

func validateRegisterRequest(req RegisterRequest) error {
	roles := make([]any, 0, len(Roles()))
	for _, r := range Roles() {
		roles = append(roles, r)
	}

	err := validation.Errors{
		"email": validation.Validate(req.Email,
			validation.Required.Error("Email is required"),
			validation.Length(3, maxEmailLength).Error("Email is too long"),
			is.EmailFormat.Error("Please enter a valid email address"),
		),
		"password": validation.Validate(req.Password,
			validation.Required.Error("Password is required"),
			validation.Length(minPasswordLength, 0).Error("Password must be at least 8 characters long"),
		),
		"role": validation.Validate(req.Role,
			validation.In(roles...).Error("Role must be one of admin, teacher, student"),
		),
	}.Filter()
	if err != nil {
		return newError(ErrValidation, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	errs, ok := err.(validation.Errors)
	if !ok {
		return err.Error()
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		if errs[k] != nil {
			msgs = append(msgs, errs[k].Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// AbsoluteURL accepts http and https URLs that carry a host. Empty values
// pass so it can be combined with validation.Required.
var AbsoluteURL = validation.By(func(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.NewError("validation_absolute_url", "must be an absolute http(s) URL")
	}
	return nil
})

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}
