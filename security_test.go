package authclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeLogMessage(t *testing.T) {
	assert.Equal(t, "line one line two", SanitizeLogMessage("line one\nline two"))
	assert.Equal(t, "bell", SanitizeLogMessage("b\x07ell"))
	assert.Len(t, SanitizeLogMessage(strings.Repeat("x", 900)), 500)
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", SanitizeInput("<script>alert(1)</script>", 0))
	assert.Equal(t, "abc", SanitizeInput("abcdef", 3))
}

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "auth-widget_1", SanitizeIdentifier("auth-widget_1"))
	assert.Equal(t, "authwidget", SanitizeIdentifier("auth widget\"]"))
	assert.Empty(t, SanitizeIdentifier("#.[]"))
}

func TestTimingSafeEqual(t *testing.T) {
	assert.True(t, TimingSafeEqual("123456", "123456"))
	assert.False(t, TimingSafeEqual("123456", "123457"))
	assert.False(t, TimingSafeEqual("123456", "12345"))
}
