package authclient

import (
	"crypto/subtle"
	"regexp"
	"strings"
)

var (
	controlChars   = regexp.MustCompile(`[\r\n\t]`)
	nonPrintable   = regexp.MustCompile(`[^\x20-\x7E]`)
	markupChars    = regexp.MustCompile(`[<>'"&]`)
	identifierDeny = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

const maxLogMessage = 500

// SanitizeLogMessage strips control and non printable characters so values
// coming from the network can not forge log lines.
func SanitizeLogMessage(message string) string {
	message = controlChars.ReplaceAllString(message, " ")
	message = nonPrintable.ReplaceAllString(message, "")
	if len(message) > maxLogMessage {
		message = message[:maxLogMessage]
	}
	return strings.TrimSpace(message)
}

// SanitizeInput removes markup characters and collapses control characters.
// The result is truncated to maxLength bytes.
func SanitizeInput(input string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = 200
	}
	input = controlChars.ReplaceAllString(input, " ")
	input = markupChars.ReplaceAllString(input, "")
	if len(input) > maxLength {
		input = input[:maxLength]
	}
	return strings.TrimSpace(input)
}

// SanitizeIdentifier keeps only characters that are safe in element ids and
// route segments.
func SanitizeIdentifier(id string) string {
	return identifierDeny.ReplaceAllString(id, "")
}

// TimingSafeEqual compares two secrets in constant time.
func TimingSafeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
