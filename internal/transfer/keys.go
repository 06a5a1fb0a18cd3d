package transfer

import (
	"fmt"
	"strings"
)

const defaultContentType = "application/octet-stream"

// SanitizeKey turns a source file name into a store key. Every rune outside
// letters, digits and "_.-()" becomes an underscore.
func SanitizeKey(name string) string {
	var b strings.Builder

	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '.' || r == '-' || r == '(' || r == ')':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}

// FallbackName is the key used when the source has no name for the object.
func FallbackName(sourceID string) string {
	return fmt.Sprintf("file_%s.bin", sourceID)
}

// IDRule describes the identifiers a source driver accepts.
type IDRule struct {
	MinLength  int
	DigitsOnly bool
}

// Drive file ids are long URL-safe strings; put.io file ids are numeric.
var (
	DriveIDRule = IDRule{MinLength: 15}
	PutioIDRule = IDRule{MinLength: 1, DigitsOnly: true}
)

// ValidateID checks a client supplied source identifier against rule. Only
// the URL-safe alphabet is ever accepted.
func ValidateID(id string, rule IDRule) error {
	if len(id) < max(rule.MinLength, 1) {
		return &IdentityError{ID: id, Reason: fmt.Sprintf("shorter than %d characters", rule.MinLength)}
	}

	for _, r := range id {
		if rule.DigitsOnly && (r < '0' || r > '9') {
			return &IdentityError{ID: id, Reason: "not a numeric id"}
		}

		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return &IdentityError{ID: id, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}

	return nil
}

// ContentDisposition returns the attachment header value for a key.
func ContentDisposition(key string) string {
	return fmt.Sprintf("attachment; filename=%q", key)
}

// PickContentType returns the first non-empty, non-generic candidate, falling
// back to application/octet-stream.
func PickContentType(candidates ...string) string {
	for _, c := range candidates {
		if c != "" && c != defaultContentType {
			return c
		}
	}

	return defaultContentType
}
