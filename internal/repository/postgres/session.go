package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
)

type SessionRepo struct {
	DB DBTX
}

// ip is cast to text: the column is inet but the model keeps the plain string form
const sessionColumns = `id, tenant_id, user_id, cnf_jkt, device_id, ip::text, user_agent,
issued_at, not_before, not_after, revoked_at, revoked_reason, created_at`

const createSession = `-- name: CreateSession
INSERT INTO sessions (tenant_id, user_id, cnf_jkt, device_id, ip, user_agent, issued_at, not_before, not_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + sessionColumns

func (r *SessionRepo) Create(ctx context.Context, tenantID uuid.UUID, params repository.CreateSessionParams) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, createSession,
		tenantID, params.UserID, params.CnfJkt,
		params.Client.DeviceID, params.Client.IP, params.Client.UserAgent,
		params.IssuedAt, params.NotBefore, params.NotAfter,
	)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			// (user_id, tenant_id) did not resolve within the tenant
			return session, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
		}
		return session, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

const getSession = `-- name: GetSession
SELECT ` + sessionColumns + `
FROM sessions
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
`

func (r *SessionRepo) Get(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, getSession, tenantID, sessionID)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionNotFound)
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const revokeSession = `-- name: RevokeSession
UPDATE sessions
SET revoked_at = $3, revoked_reason = $4, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL
`

// Revoke is monotonic and idempotent: an already-revoked session keeps its
// original revoked_at/reason and counts as zero affected.
func (r *SessionRepo) Revoke(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeSession, tenantID, sessionID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeSessionsByUser = `-- name: RevokeSessionsByUser
UPDATE sessions
SET revoked_at = $3, revoked_reason = $4, updated_at = now()
WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL
`

func (r *SessionRepo) RevokeByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeSessionsByUser, tenantID, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listActiveSessionsByUser = `-- name: ListActiveSessionsByUser
SELECT ` + sessionColumns + `
FROM sessions
WHERE tenant_id = $1 AND user_id = $2 AND deleted_at IS NULL
  AND revoked_at IS NULL AND not_before <= $3 AND not_after > $3
ORDER BY issued_at
`

func (r *SessionRepo) ListActiveByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, now time.Time) ([]models.Session, error) {
	rows, _ := r.DB.Query(ctx, listActiveSessionsByUser, tenantID, userID, now)
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return sessions, nil
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.TenantID, &s.UserID, &s.CnfJkt,
		&s.Client.DeviceID, &s.Client.IP, &s.Client.UserAgent,
		&s.IssuedAt, &s.NotBefore, &s.NotAfter,
		&s.RevokedAt, &s.RevokedReason, &s.CreatedAt,
	)
	return s, err
}
