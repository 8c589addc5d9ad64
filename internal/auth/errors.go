package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	// ErrInUse blocks deleting an account that other records still point at.
	ErrInUse = errors.New("auth: account has payment records")
)

// ErrInvalidToken is the single outcome for any token that fails verification.
// Callers never learn whether it was missing, malformed, expired or forged.
var ErrInvalidToken = errors.New("invalid token")
