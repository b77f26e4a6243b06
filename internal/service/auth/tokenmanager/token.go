// Package tokenmanager mints access/refresh token pairs. Access tokens are
// signed JWTs; refresh tokens are opaque ledger-backed identifiers issued
// and rotated by the rotation engine.
package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/service/rotation"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID `json:"uid"`
	TenantID  uuid.UUID `json:"tid"`
	SessionID uuid.UUID `json:"sid"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then default is used
	Alg string

	// Access token lifetime
	// If not set then default is used
	AccessTTL time.Duration

	// Clock source, defaults to time.Now
	Now func() time.Time
}

type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	accessTTL time.Duration
	now       func() time.Time

	// Rotation engine backing the refresh side of every pair
	engine *rotation.Engine
}

func New(cfg Config, engine *rotation.Engine) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       jwt.GetSigningMethod(cfg.Alg),
		accessTTL: cfg.AccessTTL,
		now:       cfg.Now,
		engine:    engine,
	}, nil
}

// GeneratePair issues a fresh access token and the root refresh token of a
// new rotation family for the session.
func (m *TokenManager) GeneratePair(ctx context.Context, user models.User, session models.Session, client models.ClientContext) (models.TokenPair, error) {
	var pair models.TokenPair

	refresh, err := m.engine.IssueRoot(ctx, session, client)
	if err != nil {
		return pair, fmt.Errorf("error while issuing refresh token. Err: %w", err)
	}

	return m.pairWithRefresh(user, session.ID, refresh)
}

// RefreshPair rotates the presented refresh token and mints a matching
// access token. Rejections come straight from the engine: callers must map
// ErrTokenReuseDetected and ErrInvalidToken to the same client response.
func (m *TokenManager) RefreshPair(ctx context.Context, params rotation.RotateParams, userOf func(ctx context.Context, userID uuid.UUID) (models.User, error)) (models.TokenPair, error) {
	var pair models.TokenPair

	refresh, err := m.engine.Rotate(ctx, params)
	if err != nil {
		return pair, err
	}

	user, err := userOf(ctx, refresh.UserID)
	if err != nil {
		return pair, fmt.Errorf("error while loading token owner. Err: %w", err)
	}

	return m.pairWithRefresh(user, refresh.SessionID, refresh)
}

func (m *TokenManager) pairWithRefresh(user models.User, sessionID uuid.UUID, refresh models.RefreshToken) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			UserID:    user.ID,
			TenantID:  user.TenantID,
			SessionID: sessionID,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh.JTI, ExpiresAt: refresh.ExpiresAt},
	}, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(m.key), nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil || !token.Valid {
		return AccessTokenClaims{}, fmt.Errorf("error parsing token. Err: %w", err)
	}

	return *claims, nil
}
