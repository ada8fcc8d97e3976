package run

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// DefaultLabel is used when a run is recorded without a label.
const DefaultLabel = "default"

// MaxLabelChars bounds label length in runes.
const MaxLabelChars = 200

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace to single
// spaces.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// Label returns the raw and normalized label, defaulting blank input.
func Label(raw string) (string, string) {
	if strings.TrimSpace(raw) == "" {
		return DefaultLabel, DefaultLabel
	}
	return raw, Normalize(raw)
}

// Fingerprint returns the hex SHA-256 of data, the cache key for inputs.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
