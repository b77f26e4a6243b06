package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenState is the derived lifecycle state of a refresh token.
// Evaluation order matters for the rotation engine: revocation shadows
// expiry, reuse is only meaningful for a not-yet-revoked token.
type TokenState int

const (
	// TokenActive: presentable, may be rotated
	TokenActive TokenState = iota

	// TokenExpired: past its expires_at, not evidence of compromise
	TokenExpired

	// TokenRevoked: killed by a revocation cascade
	TokenRevoked

	// TokenUsed: consumed by a successful rotation; presenting it again
	// is the reuse signal
	TokenUsed
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenExpired:
		return "expired"
	case TokenRevoked:
		return "revoked"
	case TokenUsed:
		return "used"
	default:
		return "unknown"
	}
}

// RefreshToken is one node of a rotation family.
// Tokens are soft-deleted only: used and revoked records stay around for
// lineage and forensics.
type RefreshToken struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	SessionID uuid.UUID

	// FamilyID groups one rotation lineage rooted at the session's first token
	FamilyID uuid.UUID

	// ParentID is set at issuance and immutable; nil for a root token.
	// ReplacedByID is set exactly once, when the token is consumed.
	ParentID     *uuid.UUID
	ReplacedByID *uuid.UUID

	// Cryptographic identifiers. JTI is unique per tenant and is the value
	// clients actually present.
	JTI    string
	KID    *string
	CnfJkt *string

	Client ClientContext

	UsedAt        *time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason *string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// State derives the lifecycle state at the given moment.
// The expiry boundary is inclusive: a token with ExpiresAt == now is expired.
func (t RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.Revoked:
		return TokenRevoked
	case t.UsedAt != nil:
		return TokenUsed
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Presentable reports whether the token may be accepted for rotation
func (t RefreshToken) Presentable(now time.Time) bool {
	return t.State(now) == TokenActive
}
