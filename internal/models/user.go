package models

import (
	"time"

	"github.com/google/uuid"
)

// Preferred login methods, mirrors the 'preferred_login' enum in the users table
const (
	LoginPassword = "PASSWORD"
	LoginOIDC     = "OIDC"
)

// MFA methods, mirrors the 'mfa_method' enum in the users table
const (
	MFANone = "NONE"
	MFATOTP = "TOTP"
)

type User struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Username       string
	Email          string
	PasswordHash   string
	PreferredLogin string
	MFAMethod      string

	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
	LockedAt        *time.Time

	CreatedAt time.Time
}

// Locked users may not authenticate or refresh tokens
func (u User) Locked() bool {
	return u.LockedAt != nil
}
