package auth

import "errors"

var (
	// ErrInvalidInput marks malformed or missing caller input.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrUnauthorized covers every credential failure. Callers must not be
	// able to tell an unknown user from a wrong password.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken indicates a token failed validation, expired, or was
	// revoked or rotated.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNotFound is returned for non-security-sensitive lookups only.
	ErrNotFound = errors.New("auth: not found")
	// ErrConflict marks a duplicate username, email, or document number.
	ErrConflict = errors.New("auth: resource conflict")
	// ErrUnavailable wraps store or dependency failures.
	ErrUnavailable = errors.New("auth: store unavailable")
)
