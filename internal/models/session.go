package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated client context.
// Sessions are never physically deleted: refresh tokens reference them,
// revocation only sets RevokedAt/RevokedReason.
type Session struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	UserID   uuid.UUID

	// Optional DPoP key thumbprint (jkt) the session is bound to
	CnfJkt *string

	Client ClientContext

	IssuedAt  time.Time
	NotBefore time.Time
	NotAfter  time.Time

	RevokedAt     *time.Time
	RevokedReason *string

	CreatedAt time.Time
}

// ClientContext is optional device/client metadata captured at issuance
type ClientContext struct {
	DeviceID  *string
	IP        *string
	UserAgent *string
}

// Active reports whether the session may back new tokens at the given moment
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil &&
		!now.Before(s.NotBefore) &&
		now.Before(s.NotAfter)
}
