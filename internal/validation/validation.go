// Package validation checks user-supplied values before they reach the store.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds child and family display names, in runes.
const MaxNameLength = 50

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	colorRegex    = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	bundleIDRegex = regexp.MustCompile(`^[a-zA-Z0-9\-]+(?:\.[a-zA-Z0-9\-]+)+$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

// ValidateName checks a display name. Surrounding whitespace is ignored.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ValidationError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", MaxNameLength)}
	}
	return nil
}

// ValidateColor accepts #RGB and #RRGGBB hex colors.
func ValidateColor(color string) error {
	if !colorRegex.MatchString(color) {
		return ValidationError{Field: "avatarColor", Message: "color must look like #RRGGBB"}
	}
	return nil
}

// ValidateBundleID checks a reverse-DNS app identifier such as com.example.app.
func ValidateBundleID(bundleID string) error {
	if bundleID == "" {
		return ValidationError{Field: "bundleId", Message: "bundle id is required"}
	}
	if !bundleIDRegex.MatchString(bundleID) {
		return ValidationError{Field: "bundleId", Message: "bundle id must be reverse-DNS, like com.example.app"}
	}
	return nil
}
