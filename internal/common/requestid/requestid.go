package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxRequestIDLength caps client-supplied IDs at UUID length
	MaxRequestIDLength = 36
	// PrefixLength is the length of the random prefix added to client IDs
	PrefixLength = 5
	// MaxCustomIDLength is what is left for the client part: 36 - prefix - hyphen
	MaxCustomIDLength = MaxRequestIDLength - PrefixLength - 1

	// HeaderName carries the request ID in both directions
	HeaderName = "X-Request-ID"
)

var (
	invalidCharsRe = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	hyphenRunRe    = regexp.MustCompile(`-+`)
)

// GenerateRequestID returns a request ID, reusing a client-supplied one when present.
// Client IDs are sanitized to [a-zA-Z0-9-] and prefixed with 5 random hex characters
// so two clients sending the same ID still get distinct log trails. Empty input yields
// a plain UUID.
func GenerateRequestID(customID string) string {
	sanitized := Sanitize(customID)
	if sanitized == "" {
		return uuid.NewString()
	}

	if len(sanitized) > MaxCustomIDLength {
		sanitized = strings.TrimSuffix(sanitized[:MaxCustomIDLength], "-")
	}

	return randomPrefix() + "-" + sanitized
}

// Sanitize strips everything but alphanumerics and single hyphens
func Sanitize(id string) string {
	s := strings.ReplaceAll(id, " ", "-")
	s = invalidCharsRe.ReplaceAllString(s, "")
	s = hyphenRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func randomPrefix() string {
	// uuid v4 draws from crypto/rand; its first group is 8 hex chars
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:PrefixLength]
}
