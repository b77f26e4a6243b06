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

// RefreshTokenRepo is the token ledger: it owns the refresh_tokens table
// and the rotation-family graph stored in it.
type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, tenant_id, user_id, session_id, family_id, parent_id, replaced_by_id,
jti, kid, cnf_jkt, device_id, ip::text, user_agent,
used_at, revoked, revoked_at, revoked_reason, created_at, expires_at`

const lookupToken = `-- name: LookupToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE tenant_id = $1 AND jti = $2 AND deleted_at IS NULL
`

// Lookup resolves a presented token by jti.
// A used, revoked or expired token is still returned: the rotation engine
// needs the full record to classify the presentation.
func (r *RefreshTokenRepo) Lookup(ctx context.Context, tenantID uuid.UUID, jti string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, lookupToken, tenantID, jti)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrInvalidToken)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const getTokenByID = `-- name: GetTokenByID
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
`

func (r *RefreshTokenRepo) GetByID(ctx context.Context, tenantID uuid.UUID, tokenID uuid.UUID) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByID, tenantID, tokenID)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrInvalidToken)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const insertToken = `-- name: InsertToken
INSERT INTO refresh_tokens (id, tenant_id, user_id, session_id, family_id, parent_id,
	jti, kid, cnf_jkt, device_id, ip, user_agent, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + tokenColumns

// IssueRoot creates a new rotation family rooted at this token
func (r *RefreshTokenRepo) IssueRoot(ctx context.Context, tenantID uuid.UUID, session models.Session, params repository.IssueTokenParams) (models.RefreshToken, error) {
	if session.TenantID != tenantID {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrTenantMismatch)
	}

	return r.insert(ctx, tenantID, session.UserID, session.ID, uuid.New(), nil, params)
}

// IssueChild creates the successor of parent within the same family.
// The parent's session must still be active at params.IssuedAt: a session
// that was revoked or ran out must not grow new tokens.
func (r *RefreshTokenRepo) IssueChild(ctx context.Context, tenantID uuid.UUID, parent models.RefreshToken, params repository.IssueTokenParams) (models.RefreshToken, error) {
	if parent.TenantID != tenantID {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrTenantMismatch)
	}

	session, err := (&SessionRepo{DB: r.DB}).Get(ctx, tenantID, parent.SessionID)
	if err != nil {
		return models.RefreshToken{}, err
	}
	if !session.Active(params.IssuedAt) {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrSessionInactive)
	}

	parentID := parent.ID
	return r.insert(ctx, tenantID, parent.UserID, parent.SessionID, parent.FamilyID, &parentID, params)
}

func (r *RefreshTokenRepo) insert(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, sessionID uuid.UUID, familyID uuid.UUID, parentID *uuid.UUID, params repository.IssueTokenParams) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, insertToken,
		uuid.New(), tenantID, userID, sessionID, familyID, parentID,
		params.JTI, params.KID, params.CnfJkt,
		params.Client.DeviceID, params.Client.IP, params.Client.UserAgent,
		params.IssuedAt, params.ExpiresAt,
	)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
			// jti collision within the tenant
			return token, fmt.Errorf("repo error: jti taken: %w", apperrors.ErrInvalidToken)
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
			// session/user/parent did not resolve within the tenant
			return token, fmt.Errorf("repo error: %w", apperrors.ErrTenantMismatch)
		}
		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const markTokenUsed = `-- name: MarkTokenUsed
UPDATE refresh_tokens
SET used_at = $4, replaced_by_id = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND used_at IS NULL AND revoked = false
RETURNING id
`

const getTokenUsage = `-- name: GetTokenUsage
SELECT used_at, revoked FROM refresh_tokens
WHERE tenant_id = $1 AND id = $2
`

// MarkUsed consumes the token, setting used_at and replaced_by_id exactly
// once. The conditional update is the race guard: of N concurrent rotations
// of the same token exactly one observes used_at IS NULL, every other call
// gets apperrors.ErrTokenAlreadyUsed.
func (r *RefreshTokenRepo) MarkUsed(ctx context.Context, tenantID uuid.UUID, tokenID uuid.UUID, replacementID uuid.UUID, at time.Time) error {
	rows, _ := r.DB.Query(ctx, markTokenUsed, tenantID, tokenID, replacementID, at)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// Zero rows: token is gone, already used, or revoked. Tell them apart.
		return r.classifyMarkUsedMiss(ctx, tenantID, tokenID)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func (r *RefreshTokenRepo) classifyMarkUsedMiss(ctx context.Context, tenantID uuid.UUID, tokenID uuid.UUID) error {
	rows, _ := r.DB.Query(ctx, getTokenUsage, tenantID, tokenID)
	usage, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (struct {
		UsedAt  *time.Time
		Revoked bool
	}, error) {
		var u struct {
			UsedAt  *time.Time
			Revoked bool
		}
		err := row.Scan(&u.UsedAt, &u.Revoked)
		return u, err
	})

	switch {
	case err == nil && usage.UsedAt != nil:
		return fmt.Errorf("repo error: %w", apperrors.ErrTokenAlreadyUsed)
	case err == nil:
		// revoked while the rotation was in flight
		return fmt.Errorf("repo error: %w", apperrors.ErrInvalidToken)
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrInvalidToken)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const revokeFamily = `-- name: RevokeFamily
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4, updated_at = now()
WHERE tenant_id = $1 AND family_id = $2 AND revoked = false
`

// RevokeFamily kills every non-revoked token of the family.
// Monotonic and idempotent: already-revoked tokens keep their original
// revoked_at/reason, a repeated call reports zero affected.
func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, tenantID uuid.UUID, familyID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeFamily, tenantID, familyID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeBySession = `-- name: RevokeTokensBySession
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4, updated_at = now()
WHERE tenant_id = $1 AND session_id = $2 AND revoked = false
`

func (r *RefreshTokenRepo) RevokeBySession(ctx context.Context, tenantID uuid.UUID, sessionID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeBySession, tenantID, sessionID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeByUser = `-- name: RevokeTokensByUser
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4, updated_at = now()
WHERE tenant_id = $1 AND user_id = $2 AND revoked = false
`

// RevokeByUser is the global-logout cascade across all the user's sessions
func (r *RefreshTokenRepo) RevokeByUser(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeByUser, tenantID, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listFamily = `-- name: ListFamily
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE tenant_id = $1 AND family_id = $2 AND deleted_at IS NULL
ORDER BY created_at, id
`

func (r *RefreshTokenRepo) ListFamily(ctx context.Context, tenantID uuid.UUID, familyID uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listFamily, tenantID, familyID)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.TenantID, &t.UserID, &t.SessionID, &t.FamilyID, &t.ParentID, &t.ReplacedByID,
		&t.JTI, &t.KID, &t.CnfJkt,
		&t.Client.DeviceID, &t.Client.IP, &t.Client.UserAgent,
		&t.UsedAt, &t.Revoked, &t.RevokedAt, &t.RevokedReason, &t.CreatedAt, &t.ExpiresAt,
	)
	return t, err
}
