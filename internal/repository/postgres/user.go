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

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, tenant_id, username, email, password_hash, preferred_login, mfa_method,
email_verified_at, last_login_at, locked_at, created_at`

const createUser = `-- name: CreateUser
INSERT INTO users (tenant_id, username, email, password_hash, preferred_login, mfa_method)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns

func (r *UserRepo) Create(ctx context.Context, tenantID uuid.UUID, params repository.CreateUserParams) (models.User, error) {
	preferred := params.PreferredLogin
	if preferred == "" {
		preferred = models.LoginPassword
	}
	mfa := params.MFAMethod
	if mfa == "" {
		mfa = models.MFANone
	}

	rows, _ := r.DB.Query(ctx, createUser, tenantID, params.Username, params.Email, nullString(params.PasswordHash), preferred, mfa)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
		}
		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
`

func (r *UserRepo) GetByID(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, tenantID, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + `
FROM users
WHERE tenant_id = $1 AND username = $2 AND deleted_at IS NULL
`

func (r *UserRepo) GetByUsername(ctx context.Context, tenantID uuid.UUID, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, tenantID, username)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const touchLastLogin = `-- name: TouchLastLogin
UPDATE users
SET last_login_at = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
`

func (r *UserRepo) TouchLastLogin(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID, at time.Time) error {
	tag, err := r.DB.Exec(ctx, touchLastLogin, tenantID, userID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return nil
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	var passwordHash *string
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Username, &u.Email, &passwordHash, &u.PreferredLogin, &u.MFAMethod,
		&u.EmailVerifiedAt, &u.LastLoginAt, &u.LockedAt, &u.CreatedAt,
	)
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return u, err
}

// nullString maps the empty string to SQL NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
