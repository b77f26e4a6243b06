package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/models"
)

// Storage aggregates the tenant-scoped repositories.
// InTx runs fn with a Storage bound to a single transaction; the rotation
// engine relies on it for its consume-then-issue critical section.
type Storage interface {
	User() UserRepo
	Session() SessionRepo
	Token() TokenLedger

	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Username       string
	Email          string
	PasswordHash   string
	PreferredLogin string
	MFAMethod      string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If username or email is taken within the tenant. must return apperrors.ErrUserAlreadyExists
	Create(ctx context.Context, tenantID uuid.UUID, params CreateUserParams) (models.User, error)

	// Get user by id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetByID(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID) (models.User, error)
	GetByUsername(ctx context.Context, tenantID uuid.UUID, username string) (models.User, error)

	// Record the moment of a successful login
	TouchLastLogin(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, at time.Time) error
}

type CreateSessionParams struct {
	UserID    uuid.UUID
	CnfJkt    *string
	Client    models.ClientContext
	IssuedAt  time.Time
	NotBefore time.Time
	NotAfter  time.Time
}

// Session repository interface
// Sessions are soft-deleted only: revocation sets revoked_at/revoked_reason
// and is monotonic, a revoked session is never un-revoked.
type SessionRepo interface {
	Create(ctx context.Context, tenantID uuid.UUID, params CreateSessionParams) (models.Session, error)

	// Get session by id
	// If session not found must return apperrors.ErrSessionNotFound
	Get(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID) (models.Session, error)

	// Revoke one session. Idempotent: revoking an already-revoked session
	// changes nothing and reports zero affected.
	Revoke(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID, reason string, at time.Time) (int64, error)

	// Revoke every non-revoked session of the user, returns affected count
	RevokeByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, reason string, at time.Time) (int64, error)

	// Sessions of the user that are active at the given moment
	ListActiveByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, now time.Time) ([]models.Session, error)
}

type IssueTokenParams struct {
	JTI       string
	KID       *string
	CnfJkt    *string
	Client    models.ClientContext
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenLedger owns refresh-token records and the rotation-family graph.
// All mutations are monotonic: used_at and replaced_by_id are set at most
// once, revocation flags are never cleared, rows are never deleted.
type TokenLedger interface {
	// Resolve a presented token by its per-tenant unique jti
	// If not found must return apperrors.ErrInvalidToken
	Lookup(ctx context.Context, tenantID uuid.UUID, jti string) (models.RefreshToken, error)

	// Get token by id, for lineage inspection
	// If not found must return apperrors.ErrInvalidToken
	GetByID(ctx context.Context, tenantID uuid.UUID, tokenID uuid.UUID) (models.RefreshToken, error)

	// IssueRoot creates a new rotation family for the session
	IssueRoot(ctx context.Context, tenantID uuid.UUID, session models.Session, params IssueTokenParams) (models.RefreshToken, error)

	// IssueChild creates the successor of parent within the same family.
	// Must return apperrors.ErrTenantMismatch if parent belongs to another
	// tenant and apperrors.ErrSessionInactive if the owning session is no
	// longer active at params.IssuedAt.
	IssueChild(ctx context.Context, tenantID uuid.UUID, parent models.RefreshToken, params IssueTokenParams) (models.RefreshToken, error)

	// MarkUsed consumes the token: sets used_at and replaced_by_id exactly
	// once. Must return apperrors.ErrTokenAlreadyUsed if used_at is already
	// set — the losing side of a concurrent rotation observes this.
	MarkUsed(ctx context.Context, tenantID uuid.UUID, tokenID uuid.UUID, replacementID uuid.UUID, at time.Time) error

	// Family-wide revocation, returns the number of newly revoked tokens.
	// Idempotent: a second call on the same family returns zero.
	RevokeFamily(ctx context.Context, tenantID uuid.UUID, familyID uuid.UUID, reason string, at time.Time) (int64, error)

	// Revoke every non-revoked token under one session
	RevokeBySession(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID, reason string, at time.Time) (int64, error)

	// Revoke every non-revoked token of the user across all sessions
	RevokeByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, reason string, at time.Time) (int64, error)

	// All tokens of a family ordered by creation, for audit and tests
	ListFamily(ctx context.Context, tenantID uuid.UUID, familyID uuid.UUID) ([]models.RefreshToken, error)
}
