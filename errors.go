package authclient

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation             = "AUTH_CLIENT_VALIDATION"
	TextCodeInvalidCredentials     = "AUTH_CLIENT_INVALID_CREDENTIALS"
	TextCodeInvalidRefreshToken    = "AUTH_CLIENT_INVALID_REFRESH_TOKEN"
	TextCodeInvalidTokenFormat     = "AUTH_CLIENT_INVALID_TOKEN_FORMAT"
	TextCodeNoRefreshToken         = "AUTH_CLIENT_NO_REFRESH_TOKEN"
	TextCodeNetwork                = "AUTH_CLIENT_NETWORK"
	TextCodeInvalidResponse        = "AUTH_CLIENT_INVALID_RESPONSE"
	TextCodeOAuthStateMismatch     = "AUTH_CLIENT_OAUTH_STATE_MISMATCH"
	TextCodeRegistrationFailed     = "AUTH_CLIENT_REGISTRATION_FAILED"
	TextCodeVerificationFailed     = "AUTH_CLIENT_VERIFICATION_FAILED"
	TextCodeInvalidVerificationKey = "AUTH_CLIENT_INVALID_VERIFICATION_CODE"
	TextCodePublicKeyUnavailable   = "AUTH_CLIENT_PUBLIC_KEY_UNAVAILABLE"
	TextCodeTokenSignature         = "AUTH_CLIENT_TOKEN_SIGNATURE"
	TextCodeSessionSuperseded      = "AUTH_CLIENT_SESSION_SUPERSEDED"
)

// MessageNetwork is the user facing message for transport failures.
const MessageNetwork = "Network error: please check your connection and try again"

// ErrValidation is returned for client side input violations. These never
// reach the network.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned when the identity provider rejects a login.
var ErrInvalidCredentials = goerrors.New("Invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidRefreshToken is returned when a refresh exchange fails. Callers
// must treat it as terminal for the session.
var ErrInvalidRefreshToken = goerrors.New("Invalid refresh token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidRefreshToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidTokenFormat is returned when a token can not be decoded.
var ErrInvalidTokenFormat = goerrors.New("Invalid token format", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidTokenFormat).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoRefreshToken is returned by a manual refresh when nothing is stored.
var ErrNoRefreshToken = goerrors.New("No refresh token available", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoRefreshToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork is returned when the request never produced an HTTP response.
var ErrNetwork = goerrors.New(MessageNetwork, goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(goerrors.CodeInternal)

// ErrInvalidResponse is returned when a 2xx response does not match the
// expected schema.
var ErrInvalidResponse = goerrors.New("Unexpected response from identity provider", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidResponse).
	WithCode(goerrors.CodeBadRequest)

// ErrOAuthStateMismatch is returned when the callback state does not match
// the stored anti-forgery value.
var ErrOAuthStateMismatch = goerrors.New("OAuth state mismatch", goerrors.CategoryBadInput).
	WithTextCode(TextCodeOAuthStateMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrRegistrationFailed is returned when the identity provider rejects a
// registration.
var ErrRegistrationFailed = goerrors.New("Registration failed", goerrors.CategoryConflict).
	WithTextCode(TextCodeRegistrationFailed).
	WithCode(goerrors.CodeConflict)

// ErrVerificationFailed is returned when a verification email could not be sent.
var ErrVerificationFailed = goerrors.New("Failed to send verification email", goerrors.CategoryOperation).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidVerificationCode is returned when the email verification code is rejected.
var ErrInvalidVerificationCode = goerrors.New("Invalid verification code", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidVerificationKey).
	WithCode(goerrors.CodeBadRequest)

// ErrPublicKeyUnavailable is returned when the JWKS can not be fetched.
var ErrPublicKeyUnavailable = goerrors.New("Public key unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodePublicKeyUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrTokenSignature is returned by a TokenValidator when the token signature or
// registered claims do not validate.
var ErrTokenSignature = goerrors.New("Token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSignature).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionSuperseded is returned by Machine.RefreshToken when a logout or
// a new login happened while the refresh was in flight. The result is
// discarded and the newer session is left untouched.
var ErrSessionSuperseded = goerrors.New("Session changed during refresh", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionSuperseded).
	WithCode(goerrors.CodeConflict)

// newError clones base, optionally replacing the message and recording the
// cause. Sentinels are never mutated.
func newError(base *goerrors.Error, message string, source error) *goerrors.Error {
	clone := base.Clone()
	if message != "" {
		clone.Message = message
	}
	if source != nil {
		clone.Source = source
	}
	return clone
}

// IsError reports whether err carries the same text code as kind.
func IsError(err error, kind *goerrors.Error) bool {
	if err == nil || kind == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return richErr.TextCode == kind.TextCode
}

// ErrorMessage returns the human readable message carried by err, falling
// back to def when err has no message.
func ErrorMessage(err error, def string) string {
	if err == nil {
		return def
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil && richErr.Message != "" {
		return richErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return def
}
