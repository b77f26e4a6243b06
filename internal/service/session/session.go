// Package session owns session lifecycle: creation after authentication
// and the explicit revocation cascades (single logout, global logout).
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
	"github.com/osanchez/identity-core/internal/tenant"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour

	ReasonLogout       = "logout"
	ReasonGlobalLogout = "global-logout"
)

type Config struct {
	// Session validity window length
	// If not set then default is used
	SessionTTL time.Duration

	// Clock source, defaults to time.Now
	Now func() time.Time
}

type Service struct {
	storage repository.Storage
	logger  logger.Logger

	sessionTTL time.Duration
	now        func() time.Time
}

func New(cfg Config, storage repository.Storage, l logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOp()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		storage:    storage,
		logger:     l,
		sessionTTL: cfg.SessionTTL,
		now:        cfg.Now,
	}, nil
}

// Create opens a session for the user. Called after successful
// authentication; credential verification itself is not this service's job.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, cnfJkt *string, client models.ClientContext) (models.Session, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.Session{}, err
	}

	now := s.now()
	session, err := s.storage.Session().Create(ctx, tenantID, repository.CreateSessionParams{
		UserID:    userID,
		CnfJkt:    cnfJkt,
		Client:    client,
		IssuedAt:  now,
		NotBefore: now,
		NotAfter:  now.Add(s.sessionTTL),
	})
	if err != nil {
		return session, fmt.Errorf("error while creating session. Err: %w", err)
	}

	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.Session{}, err
	}

	return s.storage.Session().Get(ctx, tenantID, sessionID)
}

// Revoke closes one session and eagerly revokes its outstanding tokens.
// Eager cascade keeps the audit surface bounded even though presentation-time
// checks would reject the tokens anyway.
func (s *Service) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonLogout
	}

	now := s.now()
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		sessions, err := st.Session().Revoke(ctx, tenantID, sessionID, reason, now)
		if err != nil {
			return err
		}

		tokens, err := st.Token().RevokeBySession(ctx, tenantID, sessionID, reason, now)
		if err != nil {
			return err
		}

		s.logger.Info("session revoked",
			"tenant_id", tenantID,
			"session_id", sessionID,
			"reason", reason,
			"sessions_revoked", sessions,
			"tokens_revoked", tokens,
		)
		return nil
	})
}

// RevokeAllForUser is the global logout: every session and every token of
// the user within the tenant.
func (s *Service) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonGlobalLogout
	}

	now := s.now()
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		sessions, err := st.Session().RevokeByUser(ctx, tenantID, userID, reason, now)
		if err != nil {
			return err
		}

		tokens, err := st.Token().RevokeByUser(ctx, tenantID, userID, reason, now)
		if err != nil {
			return err
		}

		s.logger.Info("all user sessions revoked",
			"tenant_id", tenantID,
			"user_id", userID,
			"reason", reason,
			"sessions_revoked", sessions,
			"tokens_revoked", tokens,
		)
		return nil
	})
}

// ListActive returns the user's sessions that are active right now
func (s *Service) ListActive(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return s.storage.Session().ListActiveByUser(ctx, tenantID, userID, s.now())
}
