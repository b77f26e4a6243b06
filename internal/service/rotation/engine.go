// Package rotation implements the refresh-token rotation state machine:
// one-time consumption of presented tokens, issuance of their successors,
// and reuse detection with family-wide revocation.
package rotation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
	"github.com/osanchez/identity-core/internal/tenant"
)

const (
	defaultRefreshTTL = 30 * 24 * time.Hour

	// revocation reasons recorded on cascaded rows
	ReasonReuseDetected = "reuse-detected"
)

type Config struct {
	// Refresh token lifetime
	// If not set then default is used
	RefreshTTL time.Duration

	// Keep the owning session alive when reuse is detected.
	// By default the session is revoked together with the family: a stolen
	// token implies the whole session is suspect.
	KeepSessionOnReuse bool

	// Clock source, defaults to time.Now. All expiry and activity checks
	// in the engine go through it.
	Now func() time.Time
}

// Engine is a pure transition function over ledger and session state.
// It holds no persistent state itself; the consume-then-issue step runs in
// a single storage transaction.
type Engine struct {
	storage repository.Storage
	logger  logger.Logger

	refreshTTL         time.Duration
	keepSessionOnReuse bool
	now                func() time.Time
}

func New(cfg Config, storage repository.Storage, l logger.Logger) (*Engine, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOp()
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		storage:            storage,
		logger:             l,
		refreshTTL:         cfg.RefreshTTL,
		keepSessionOnReuse: cfg.KeepSessionOnReuse,
		now:                cfg.Now,
	}, nil
}

// IssueRoot opens a new rotation family for the session and returns its
// first token. Called once per session, right after authentication.
func (e *Engine) IssueRoot(ctx context.Context, session models.Session, client models.ClientContext) (models.RefreshToken, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.RefreshToken{}, err
	}

	now := e.now()
	if !session.Active(now) {
		return models.RefreshToken{}, fmt.Errorf("can't root a family on inactive session: %w", apperrors.ErrSessionInactive)
	}

	token, err := e.storage.Token().IssueRoot(ctx, tenantID, session, repository.IssueTokenParams{
		JTI:       newJTI(),
		CnfJkt:    session.CnfJkt,
		Client:    client,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.refreshTTL),
	})
	if err != nil {
		return token, fmt.Errorf("error while issuing root token. Err: %w", err)
	}

	return token, nil
}

type RotateParams struct {
	// Presented refresh token (the jti value the client holds)
	Token string

	// Optional DPoP proof-of-possession thumbprint presented by the caller
	Proof *string

	// Client metadata recorded on the successor token
	Client models.ClientContext
}

// Rotate runs the rotation state machine over a presented token:
//
//	not found / expired / revoked -> ErrInvalidToken, no side effects
//	already used                  -> family revocation, ErrTokenReuseDetected
//	active                        -> consume it and return its successor
//
// Exactly one of N concurrent presentations of the same active token wins;
// the losers are routed to the reuse branch by the ledger's conditional
// consume and must not leave a partial child behind.
func (e *Engine) Rotate(ctx context.Context, params RotateParams) (models.RefreshToken, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.RefreshToken{}, err
	}

	now := e.now()

	var child models.RefreshToken
	var reused *models.RefreshToken

	err = e.storage.InTx(ctx, func(s repository.Storage) error {
		token, err := s.Token().Lookup(ctx, tenantID, params.Token)
		if err != nil {
			return err
		}

		switch token.State(now) {
		case models.TokenExpired, models.TokenRevoked:
			// Plain expiry and prior revocation are not evidence of
			// compromise, reject without cascade.
			return fmt.Errorf("token is %s: %w", token.State(now), apperrors.ErrInvalidToken)

		case models.TokenUsed:
			reused = &token
			return apperrors.ErrTokenReuseDetected
		}

		session, err := s.Session().Get(ctx, tenantID, token.SessionID)
		if err != nil {
			return err
		}
		if !session.Active(now) {
			// Client synchronization issue, not compromise: no cascade
			return fmt.Errorf("owning session is not active: %w", apperrors.ErrSessionInactive)
		}

		if err := verifyProof(token, session, params.Proof); err != nil {
			return err
		}

		child, err = s.Token().IssueChild(ctx, tenantID, token, repository.IssueTokenParams{
			JTI:       newJTI(),
			KID:       token.KID,
			CnfJkt:    token.CnfJkt,
			Client:    params.Client,
			IssuedAt:  now,
			ExpiresAt: now.Add(e.refreshTTL),
		})
		if err != nil {
			return err
		}

		err = s.Token().MarkUsed(ctx, tenantID, token.ID, child.ID, now)
		if errors.Is(err, apperrors.ErrTokenAlreadyUsed) {
			// Lost the race to a concurrent presentation. Rolling back
			// removes our child; the committed winner stays the only
			// successor and this presentation counts as reuse.
			reused = &token
			return apperrors.ErrTokenReuseDetected
		}

		return err
	})

	if reused != nil {
		e.cascadeReuse(ctx, tenantID, *reused)
		return models.RefreshToken{}, apperrors.ErrTokenReuseDetected
	}
	if err != nil {
		return models.RefreshToken{}, err
	}

	return child, nil
}

// cascadeReuse revokes the whole family of a replayed token, and unless
// configured otherwise the owning session too. Runs in its own transaction,
// after the rotation transaction has rolled back.
func (e *Engine) cascadeReuse(ctx context.Context, tenantID uuid.UUID, token models.RefreshToken) {
	now := e.now()

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		revoked, err := s.Token().RevokeFamily(ctx, tenantID, token.FamilyID, ReasonReuseDetected, now)
		if err != nil {
			return err
		}

		sessionsRevoked := int64(0)
		if !e.keepSessionOnReuse {
			sessionsRevoked, err = s.Session().Revoke(ctx, tenantID, token.SessionID, ReasonReuseDetected, now)
			if err != nil {
				return err
			}
		}

		e.logger.Warn("refresh token reuse detected, family revoked",
			"tenant_id", tenantID,
			"family_id", token.FamilyID,
			"session_id", token.SessionID,
			"user_id", token.UserID,
			"tokens_revoked", revoked,
			"sessions_revoked", sessionsRevoked,
		)
		return nil
	})
	if err != nil {
		// The rejection stands either way; the cascade will complete on the
		// next presentation of any token of this family.
		e.logger.Error("reuse cascade failed",
			"tenant_id", tenantID,
			"family_id", token.FamilyID,
			"error", err.Error(),
		)
	}
}

// verifyProof checks a caller-presented DPoP thumbprint against the
// bindings stored on the token and, when set, the session.
// A token without binding accepts any presentation.
func verifyProof(token models.RefreshToken, session models.Session, proof *string) error {
	match := func(bound *string) bool {
		if bound == nil {
			return true
		}
		return proof != nil && *proof == *bound
	}

	if !match(token.CnfJkt) || !match(session.CnfJkt) {
		return fmt.Errorf("presented proof does not match binding: %w", apperrors.ErrProofOfPossessionMismatch)
	}
	return nil
}

// newJTI generates the random identifier clients will present; 16 bytes of
// entropy encoded as hex
func newJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
