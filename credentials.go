package eventauth

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail reports whether s is syntactically an email address
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}

// DetectIdentifierType returns "email" if the login identifier is an email
// address and "username" otherwise
func DetectIdentifierType(identifier string) string {
	if IsValidEmail(identifier) {
		return "email"
	}
	return "username"
}

// PasswordPolicy defines what a new password must contain
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy requires 10 characters with at least one upper case
// letter, lower case letter, digit and symbol
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     10,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Validate returns an invalid-input AuthError describing the first rule the
// password breaks, or nil
func (p PasswordPolicy) Validate(password string) *AuthError {
	if len([]rune(password)) < p.MinLength {
		return invalidInput(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", p.MinLength), "password")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return invalidInput(ErrCodeWeakPassword, "Password must contain an upper case letter", "password")
	case p.RequireLower && !hasLower:
		return invalidInput(ErrCodeWeakPassword, "Password must contain a lower case letter", "password")
	case p.RequireDigit && !hasDigit:
		return invalidInput(ErrCodeWeakPassword, "Password must contain a digit", "password")
	case p.RequireSymbol && !hasSymbol:
		return invalidInput(ErrCodeWeakPassword, "Password must contain a symbol", "password")
	}
	return nil
}

// dateOfBirthLayouts are tried in order
var dateOfBirthLayouts = []string{"2006-01-02", time.RFC3339}

// ParseDateOfBirth parses a date of birth and rejects dates after now
func ParseDateOfBirth(value string, now time.Time) (time.Time, *AuthError) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, invalidInput(ErrCodeMissingField, "Date of birth is required", "dob")
	}
	for _, layout := range dateOfBirthLayouts {
		dob, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if dob.After(now) {
			return time.Time{}, invalidInput(ErrCodeInvalidDateOfBirth, "Date of birth cannot be in the future", "dob")
		}
		return dob.UTC(), nil
	}
	return time.Time{}, invalidInput(ErrCodeInvalidDateOfBirth, "Invalid date of birth", "dob")
}
