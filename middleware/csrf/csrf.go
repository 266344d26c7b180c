// Package csrf protects state changing widget routes with signed, session
// bound tokens.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch   = errors.New("CSRF token mismatch")
	ErrTokenMissing    = errors.New("CSRF token missing")
	ErrTokenExpired    = errors.New("CSRF token expired")
	ErrSessionMissing  = errors.New("CSRF session missing")
	ErrSecureKeyLength = errors.New("CSRF secure key must be at least 32 bytes")
)

// DefaultTokenLength is the default nonce length in bytes
const DefaultTokenLength = 32

// DefaultContextKey is the default locals key holding the request token
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultSessionKey is the locals key holding the session id tokens are
// bound to.
const DefaultSessionKey = "session_id"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the nonce length in bytes
	TokenLength int

	// ContextKey defines the key for storing the token in locals
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// SessionKey is the locals key read for the session id. A request
	// without one is rejected with ErrSessionMissing.
	SessionKey string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// SecureKey signs tokens. A random key is generated when empty, which
	// invalidates outstanding tokens on restart.
	SecureKey []byte
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) string

// New creates a new CSRF middleware. It panics when SecureKey is set but
// shorter than 32 bytes.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			session := sessionID(ctx, cfg.SessionKey)
			if session == "" {
				return cfg.ErrorHandler(ctx, ErrSessionMissing)
			}

			token, err := generateToken(cfg, session)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			// safe methods don't require validation
			method := strings.ToUpper(ctx.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				return next(ctx)
			}

			if err := validateToken(ctx, cfg, session); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return next(ctx)
		}
	}
}

func sessionID(ctx router.Context, key string) string {
	id, _ := ctx.Locals(key).(string)
	return strings.TrimSpace(id)
}

// generateToken signs timestamp:nonce:session with the secure key.
func generateToken(cfg Config, session string) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	timestamp := time.Now().UTC().Unix()
	payload := fmt.Sprintf("%d:%s:%s", timestamp, hex.EncodeToString(nonce), session)

	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func validateToken(ctx router.Context, cfg Config, session string) error {
	token := extractToken(ctx, cfg)
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestampStr, nonceHex, sessionFromToken, signatureHex := parts[0], parts[1], parts[2], parts[3]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if _, err := hex.DecodeString(nonceHex); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(sessionFromToken), []byte(session)) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		expiresAt := time.Unix(timestamp, 0).Add(cfg.Expiration)
		if time.Now().UTC().After(expiresAt) {
			return ErrTokenExpired
		}
	}

	return nil
}

func extractToken(ctx router.Context, cfg Config) string {
	for _, extractor := range getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName) {
		if token := strings.TrimSpace(extractor(ctx)); token != "" {
			return token
		}
	}
	return ""
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromHeader(header),
			extractorFromForm(formField),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "form:") {
			extractors = append(extractors, extractorFromForm(strings.TrimPrefix(part, "form:")))
		} else if strings.HasPrefix(part, "header:") {
			extractors = append(extractors, extractorFromHeader(strings.TrimPrefix(part, "header:")))
		}
	}
	return extractors
}

// extractorFromForm reads the token from a urlencoded body
func extractorFromForm(fieldName string) TokenExtractor {
	return func(ctx router.Context) string {
		contentType := strings.ToLower(ctx.Header(router.HeaderContentType))
		if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
			return ""
		}
		values, err := url.ParseQuery(string(ctx.Body()))
		if err != nil {
			return ""
		}
		return values.Get(fieldName)
	}
}

// extractorFromHeader extracts token from request header
func extractorFromHeader(headerName string) TokenExtractor {
	return func(ctx router.Context) string {
		return ctx.Header(headerName)
	}
}

// configDefault returns a default config
func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)
	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	switch err {
	case ErrTokenMissing:
		return ctx.JSON(router.StatusForbidden, map[string]string{"error": "CSRF token missing"})
	case ErrTokenMismatch:
		return ctx.JSON(router.StatusForbidden, map[string]string{"error": "CSRF token mismatch"})
	case ErrTokenExpired:
		return ctx.JSON(router.StatusForbidden, map[string]string{"error": "CSRF token expired"})
	case ErrSessionMissing:
		return ctx.JSON(router.StatusForbidden, map[string]string{"error": "CSRF session missing"})
	default:
		return ctx.JSON(router.StatusInternalServerError, map[string]string{"error": "CSRF validation error"})
	}
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: %w, got %d", ErrSecureKeyLength, len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}

// TemplateHelpers returns the token, form field and header names stored by
// the middleware, for use in views.
func TemplateHelpers(ctx router.Context, tokenKey string) map[string]any {
	if tokenKey == "" {
		tokenKey = DefaultContextKey
	}

	token, _ := ctx.Locals(tokenKey).(string)

	fieldName := DefaultFormFieldName
	if val, ok := ctx.Locals(tokenKey + "_field").(string); ok && val != "" {
		fieldName = val
	}

	headerName := DefaultHeaderName
	if val, ok := ctx.Locals(tokenKey + "_header").(string); ok && val != "" {
		headerName = val
	}

	return map[string]any{
		"token":  token,
		"field":  fieldName,
		"header": headerName,
	}
}
