package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserLocked        = errors.New("user is locked")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInactive = errors.New("session is revoked or outside its validity window")

	// ErrInvalidToken covers not-found, expired and already-revoked tokens.
	// Callers must not be able to tell these cases apart.
	ErrInvalidToken = errors.New("refresh token is invalid")

	// ErrTokenReuseDetected is raised when an already-consumed token is
	// presented again. Internal alerting only: the client-facing response
	// must be identical to ErrInvalidToken.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	ErrTokenAlreadyUsed = errors.New("refresh token is already used")

	ErrProofOfPossessionMismatch = errors.New("proof-of-possession thumbprint mismatch")

	// ErrTenantMismatch means a reference resolved outside the caller's
	// tenant. Never expected in correct operation, treated as internal.
	ErrTenantMismatch = errors.New("cross-tenant reference")
)
