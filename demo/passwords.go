package demo

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errEmptyPassword = errors.New("password must not be empty")

// hashPassword generates a bcrypt hash at cost.
func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// comparePassword reports whether password matches hash.
func comparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
