package eventauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AuthError and decides the status code it maps to
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

// kindStatus is the only place error kinds are mapped to HTTP status codes
var kindStatus = map[Kind]int{
	KindInvalidInput:    http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindRateLimited:     http.StatusTooManyRequests,
	KindInternal:        http.StatusInternalServerError,
}

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error codes
const (
	ErrCodeInvalidRequest        = "invalid_request"
	ErrCodeMissingField          = "missing_field"
	ErrCodeInvalidEmail          = "invalid_email"
	ErrCodeWeakPassword          = "weak_password"
	ErrCodeInvalidDateOfBirth    = "invalid_date_of_birth"
	ErrCodeUsernameTaken         = "username_taken"
	ErrCodeEmailExists           = "email_exists"
	ErrCodeProviderAccountExists = "provider_account_exists"
	ErrCodeInvalidCreds          = "invalid_credentials"
	ErrCodeInvalidProviderToken  = "invalid_provider_token"
	ErrCodeEmailNotVerified      = "email_not_verified"
	ErrCodeNotRegistered         = "not_registered"
	ErrCodeProviderMismatch      = "provider_mismatch"
	ErrCodeInvalidRefreshToken   = "invalid_refresh_token"
	ErrCodeNotLocalAccount       = "not_local_account"
	ErrCodeUnauthenticated       = "unauthenticated"
	ErrCodeRateLimited           = "rate_limited"
	ErrCodeInternal              = "internal_error"
)

// AuthError is the failure type returned by every authentication flow
type AuthError struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error // underlying cause, never shown to production callers
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error's kind
func (e *AuthError) StatusCode() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NewAuthError creates an AuthError without an underlying cause
func NewAuthError(kind Kind, code, message, field string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message, Field: field}
}

func invalidInput(code, message, field string) *AuthError {
	return NewAuthError(KindInvalidInput, code, message, field)
}

func internalError(message string, err error) *AuthError {
	return &AuthError{Kind: KindInternal, Code: ErrCodeInternal, Message: message, Err: err}
}

// errInvalidCredentials is shared by every local login failure so callers
// cannot tell an unknown identifier from a wrong password
func errInvalidCredentials() *AuthError {
	return NewAuthError(KindUnauthenticated, ErrCodeInvalidCreds, "Invalid credentials", "")
}

func errInvalidRefresh(kind Kind) *AuthError {
	return NewAuthError(kind, ErrCodeInvalidRefreshToken, "Invalid refresh token", "")
}

// AsAuthError returns err as an *AuthError, wrapping anything else as internal
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return internalError("Internal server error", err)
}
