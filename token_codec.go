package authclient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the decoded payload of an access or refresh token.
type TokenClaims struct {
	User *User `json:"user,omitempty"`
	jwt.RegisteredClaims
}

// Codec decodes bearer tokens without verifying them. Signature, issuer and
// audience are NOT checked here; claims obtained through the codec are
// advisory until a TokenValidator or the resource server accepts the token.
type Codec struct {
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithCodecClock injects the clock used by IsLive.
func WithCodecClock(clock func() time.Time) CodecOption {
	return func(c *Codec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewCodec returns a codec using the wall clock.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithPaddingAllowed()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Claims decodes the full payload of token. Only the middle segment is
// read; the header and signature segments are not inspected.
func (c *Codec) Claims(token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, newError(ErrInvalidTokenFormat, "", nil)
	}

	payload, err := c.parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, newError(ErrInvalidTokenFormat, "", err)
	}

	claims := &TokenClaims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, newError(ErrInvalidTokenFormat, "", err)
	}
	return claims, nil
}

// Decode returns the user embedded in token.
func (c *Codec) Decode(token string) (*User, error) {
	claims, err := c.Claims(token)
	if err != nil {
		return nil, err
	}
	if claims.User == nil {
		return nil, newError(ErrInvalidTokenFormat, "", nil)
	}
	if role, ok := ParseRole(string(claims.User.Role)); ok {
		claims.User.Role = role
	}
	return claims.User, nil
}

// IsLive reports whether token decodes and its exp is still in the future.
// It never fails: any decode problem makes the token not live.
func (c *Codec) IsLive(token string) bool {
	claims, err := c.Claims(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Unix() > c.now().Unix()
}

// ExpiresIn returns the time left before token expires, zero when it is
// already expired or can not be decoded.
func (c *Codec) ExpiresIn(token string) time.Duration {
	claims, err := c.Claims(token)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}
	left := claims.ExpiresAt.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}
