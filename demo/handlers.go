package demo

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-client"
	"github.com/google/uuid"
)

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

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Role, validation.Required),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (b *Backend) routes() {
	b.app.Get(JWKSPath, b.jwks)

	api := b.app.Group(APIPrefix)
	api.Post("/auth/login", b.login)
	api.Post("/auth/register", b.register)
	api.Post("/auth/refresh", b.refreshTokens)
	api.Post("/send-verification", b.sendVerification)
	api.Post("/verify-email", b.verifyEmail)
	api.Get("/oauth2/authorization/:provider", b.authorize)
	api.Post("/oauth2/token", b.exchangeCode)
}

func (b *Backend) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	b.logger.Error("demo backend request failed", "path", c.Path(), "error", err)
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (b *Backend) jwks(c *fiber.Ctx) error {
	return c.JSON(b.JWKS())
}

func (b *Backend) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	acc, ok := b.lookup(req.EmailOrUsername)
	if !ok || !comparePassword(req.Password, acc.passwordHash) {
		b.logger.Info("demo login rejected", "identifier", authclient.SanitizeInput(req.EmailOrUsername, 254))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	}
	if !acc.user.EmailVerified {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Please verify your email before signing in"})
	}

	pair, err := b.IssueTokens(acc.user)
	if err != nil {
		return err
	}

	user := acc.user
	return c.JSON(authclient.LoginResponse{
		User:         &user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (b *Backend) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	role, ok := authclient.ParseRole(req.Role)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown role"})
	}
	if _, exists := b.lookup(req.Email); exists {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "User already exists"})
	}

	err := b.addAccount(Seed{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		Role:      role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, false)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful. Please check your email for the verification code.",
	})
}

func (b *Backend) refreshTokens(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Refresh token is required"})
	}

	acc, err := b.rotate(req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid refresh token"})
	}

	pair, err := b.IssueTokens(acc.user)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

func (b *Backend) sendVerification(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}
	if _, ok := b.lookup(req.Email); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "No account found for that email"})
	}

	b.logger.Info("demo verification code issued", "email", authclient.SanitizeInput(req.Email, 254))
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Verification code sent to " + normalizeEmail(req.Email),
	})
}

func (b *Backend) verifyEmail(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	acc, ok := b.lookup(req.Email)
	if !ok || !authclient.TimingSafeEqual(req.Code, b.verificationCode) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid verification code"})
	}

	b.mu.Lock()
	if stored, ok := b.accounts[acc.user.Email]; ok {
		stored.user.EmailVerified = true
	}
	b.mu.Unlock()

	return c.JSON(fiber.Map{"success": true, "message": "Email verified successfully"})
}

// authorize stands in for the provider consent screen: it approves at once
// and redirects back with a one time code.
func (b *Backend) authorize(c *fiber.Ctx) error {
	provider := strings.ToLower(c.Params("provider"))
	redirectURI := c.Query("redirect_uri")
	state := c.Query("state")
	if redirectURI == "" || state == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "redirect_uri and state are required"})
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid redirect_uri"})
	}

	email, err := b.socialAccount(provider)
	if err != nil {
		return err
	}
	code := b.IssueAuthorizationCode(email)

	q := target.Query()
	q.Set("code", code)
	q.Set("state", state)
	target.RawQuery = q.Encode()
	return c.Redirect(target.String(), fiber.StatusFound)
}

// IssueAuthorizationCode registers a one time OAuth code for email.
func (b *Backend) IssueAuthorizationCode(email string) string {
	code := uuid.NewString()
	b.mu.Lock()
	b.codes[code] = normalizeEmail(email)
	b.mu.Unlock()
	return code
}

func (b *Backend) socialAccount(provider string) (string, error) {
	email := provider + ".user@school.edu"
	if _, ok := b.lookup(email); ok {
		return email, nil
	}

	err := b.addAccount(Seed{
		Email:     email,
		Password:  uuid.NewString(),
		Role:      authclient.RoleStudent,
		FirstName: strings.ToUpper(provider[:1]) + provider[1:],
		LastName:  "User",
	}, true)
	return email, err
}

func (b *Backend) exchangeCode(c *fiber.Ctx) error {
	if c.FormValue("grant_type") != "authorization_code" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":             "unsupported_grant_type",
			"error_description": "Only authorization_code is supported",
		})
	}

	code := c.FormValue("code")
	b.mu.Lock()
	email, ok := b.codes[code]
	delete(b.codes, code)
	b.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":             "invalid_grant",
			"error_description": "Authorization code is invalid or expired",
		})
	}

	acc, ok := b.lookup(email)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_grant"})
	}

	pair, err := b.IssueTokens(acc.user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(b.accessTTL.Seconds()),
	})
}
