// Package auth glues user verification, session lifecycle and the token
// manager into the operations the HTTP layer exposes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/service/auth/tokenmanager"
	"github.com/osanchez/identity-core/internal/service/rotation"
	"github.com/osanchez/identity-core/internal/service/session"
	"github.com/osanchez/identity-core/internal/service/user"
	"github.com/osanchez/identity-core/internal/tenant"
)

type Service struct {
	users    *user.Service
	sessions *session.Service
	tokens   *tokenmanager.TokenManager
	logger   logger.Logger
}

func New(users *user.Service, sessions *session.Service, tokens *tokenmanager.TokenManager, l logger.Logger) (*Service, error) {
	if users == nil || sessions == nil || tokens == nil {
		return nil, errors.New("users, sessions and tokens must not be nil")
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		logger:   l,
	}, nil
}

// Register creates the user and logs them straight in
func (s *Service) Register(ctx context.Context, username string, email string, password string, client models.ClientContext) (models.TokenPair, error) {
	u, err := s.users.Create(ctx, username, email, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.openSession(ctx, u, nil, client)
}

// Login verifies credentials and opens a fresh session with its own
// rotation family.
func (s *Service) Login(ctx context.Context, username string, password string, cnfJkt *string, client models.ClientContext) (models.TokenPair, error) {
	u, err := s.users.VerifyPassword(ctx, username, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.openSession(ctx, u, cnfJkt, client)
}

func (s *Service) openSession(ctx context.Context, u models.User, cnfJkt *string, client models.ClientContext) (models.TokenPair, error) {
	sess, err := s.sessions.Create(ctx, u.ID, cnfJkt, client)
	if err != nil {
		return models.TokenPair{}, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID, sess.IssuedAt); err != nil {
		// Login already succeeded, the timestamp is best effort
		s.logger.Warn("can't record last login", "user_id", u.ID, "error", err.Error())
	}

	pair, err := s.tokens.GeneratePair(ctx, u, sess, client)
	if err != nil {
		return pair, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return pair, nil
}

// Refresh exchanges a presented refresh token for a new pair
func (s *Service) Refresh(ctx context.Context, refresh string, proof *string, client models.ClientContext) (models.TokenPair, error) {
	return s.tokens.RefreshPair(ctx, rotation.RotateParams{
		Token:  refresh,
		Proof:  proof,
		Client: client,
	}, s.users.GetByID)
}

// Logout revokes the authenticated session and its tokens
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, sessionID, session.ReasonLogout)
}

// LogoutAll revokes every session and token of the user
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllForUser(ctx, userID, session.ReasonGlobalLogout)
}

// Sessions lists the user's currently active sessions
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// Auth authenticates the request by its bearer access token and returns
// the user together with the session the token was minted for.
// The token's tenant claim must match the request's tenant context and the
// owning session must still be active.
func (s *Service) Auth(ctx context.Context, r *http.Request) (models.User, uuid.UUID, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.User{}, uuid.Nil, err
	}

	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return models.User{}, uuid.Nil, apperrors.ErrInvalidToken
	}

	claims, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return models.User{}, uuid.Nil, apperrors.ErrInvalidToken
	}

	if claims.TenantID != tenantID {
		return models.User{}, uuid.Nil, apperrors.ErrTenantMismatch
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil || sess.RevokedAt != nil {
		return models.User{}, uuid.Nil, apperrors.ErrSessionInactive
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return models.User{}, uuid.Nil, err
	}

	return u, claims.SessionID, nil
}
