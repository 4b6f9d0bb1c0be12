package auth

import "errors"

// Sentinel errors returned by the auth service. The HTTP handler is the
// single place that translates these into status codes; everything below
// the handler works in terms of error kinds, not statuses.
var (
	ErrValidation         = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCode        = errors.New("invalid or expired validation code")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnverified         = errors.New("email not verified")
	ErrRateLimited        = errors.New("too many requests")
	ErrInvalidToken       = errors.New("invalid token")
)
