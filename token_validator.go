package authclient

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator verifies a token signature and registered claims before its
// embedded user is trusted.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*TokenClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token string) (*TokenClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(ctx context.Context, token string) (*TokenClaims, error) {
	if f == nil {
		return nil, newError(ErrTokenSignature, "", nil)
	}
	return f(ctx, token)
}

// JWKSValidator checks RS256 signatures against keys from a KeySource.
type JWKSValidator struct {
	keys     KeySource
	issuer   string
	audience string
}

// JWKSValidatorOption customizes a JWKSValidator.
type JWKSValidatorOption func(*JWKSValidator)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWKSValidatorOption {
	return func(v *JWKSValidator) {
		v.issuer = issuer
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) JWKSValidatorOption {
	return func(v *JWKSValidator) {
		v.audience = audience
	}
}

// NewJWKSValidator returns a validator backed by keys.
func NewJWKSValidator(keys KeySource, opts ...JWKSValidatorOption) *JWKSValidator {
	v := &JWKSValidator{keys: keys}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate parses token, verifying the signature. When verification fails
// the key set is dropped and fetched once more so a rotated key is picked up.
func (v *JWKSValidator) Validate(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := v.validate(ctx, token)
	if err == nil || !errors.Is(err, jwt.ErrTokenSignatureInvalid) && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return claims, normalizeValidationError(err)
	}

	v.keys.InvalidatePublicKey()
	claims, err = v.validate(ctx, token)
	return claims, normalizeValidationError(err)
}

func (v *JWKSValidator) validate(ctx context.Context, token string) (*TokenClaims, error) {
	keys, err := v.keys.FetchPublicKey(ctx)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithPaddingAllowed(),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keys.Keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}
	if IsError(err, ErrPublicKeyUnavailable) {
		return err
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return newError(ErrInvalidTokenFormat, "", err)
	}
	return newError(ErrTokenSignature, "", err)
}
