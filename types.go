package authclient

import (
	"fmt"
	"strings"
)

// Logger is the structured logger used across the client. It is satisfied by
// go-logger/glog loggers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Role is the closed set of portal roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleTeacher, RoleStudent}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// ParseRole normalizes a role coming from the identity provider, which
// uses upper case names on the wire.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// User is the identity embedded in access tokens. Treat it as immutable for
// the lifetime of a session.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          Role   `json:"role"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// Clone returns a copy so callers can not mutate session state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// DisplayName returns the best human readable name for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// TokenPair holds the access and refresh tokens issued together.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResponse is the payload returned by a successful login.
type LoginResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Tokens returns the token pair carried by the response.
func (r *LoginResponse) Tokens() TokenPair {
	return TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// RegisterRequest holds registration input. Only Email and Password are
// required, the remaining fields are derived when empty.
type RegisterRequest struct {
	Email     string
	Password  string
	Role      Role
	Username  string
	FirstName string
	LastName  string
}

// RegisterResult reports the outcome of a registration. Registration never
// signs the user in.
type RegisterResult struct {
	RequiresVerification bool   `json:"requiresVerification"`
	Message              string `json:"message"`
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { logLine("DBG", msg, args...) }
func (defLogger) Info(msg string, args ...any)  { logLine("INF", msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { logLine("WRN", msg, args...) }
func (defLogger) Error(msg string, args ...any) { logLine("ERR", msg, args...) }

func logLine(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH-CLIENT ")
	b.WriteString(SanitizeLogMessage(msg))
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	fmt.Println(b.String())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
