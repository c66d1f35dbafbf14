// Package validate provides id and credential shape validation for the
// chat service surface.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Pattern definitions for id and token validation.
var (
	// SnowflakePattern matches chat-service snowflake ids (17-20 digits).
	SnowflakePattern = regexp.MustCompile(`^[0-9]{17,20}$`)

	// TokenSegmentPattern matches a single base64url token segment.
	TokenSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Common errors for validation failures.
var (
	ErrEmptyValue       = errors.New("value is empty")
	ErrNotSnowflake     = errors.New("not a 17-20 digit snowflake")
	ErrTokenSegments    = errors.New("token must have exactly three dot-separated segments")
	ErrTokenSegmentForm = errors.New("token segment contains non-base64url characters")
)

// IsSnowflake reports whether s is a valid snowflake id.
func IsSnowflake(s string) bool {
	return SnowflakePattern.MatchString(s)
}

// CheckSnowflake validates a snowflake id and returns a labeled reason on
// failure.
func CheckSnowflake(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyValue
	}
	if !SnowflakePattern.MatchString(s) {
		return ErrNotSnowflake
	}
	return nil
}

// CheckToken validates the shape of a bot token: exactly three
// dot-separated base64url segments. It does not verify the credential.
func CheckToken(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyValue
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ErrTokenSegments
	}
	for _, part := range parts {
		if part == "" || !TokenSegmentPattern.MatchString(part) {
			return ErrTokenSegmentForm
		}
	}
	return nil
}

// Allowlist is a set of snowflake ids. The empty set denies everything.
type Allowlist map[string]struct{}

// NewAllowlist builds an allowlist from individual ids. Invalid ids are
// dropped.
func NewAllowlist(ids ...string) Allowlist {
	set := make(Allowlist, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if IsSnowflake(id) {
			set[id] = struct{}{}
		}
	}
	return set
}

// Allows reports whether id is present. Fail-closed: a nil or empty list
// allows nothing.
func (a Allowlist) Allows(id string) bool {
	if len(a) == 0 {
		return false
	}
	_, ok := a[id]
	return ok
}

// ParseIDList splits a comma- or space-separated list of snowflakes,
// dropping entries that do not validate.
func ParseIDList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if IsSnowflake(f) {
			out = append(out, f)
		}
	}
	return out
}
