package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/handlers/middleware"
	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/tenant"
)

// stubAuthService returns canned values; individual tests override the
// func fields they care about
type stubAuthService struct {
	registerErr error
	loginErr    error
	refreshErr  error
	authErr     error

	pair     models.TokenPair
	user     models.User
	session  uuid.UUID
	sessions []models.Session

	loggedOut    *uuid.UUID
	loggedOutAll *uuid.UUID
}

func (s *stubAuthService) Register(_ context.Context, _, _, _ string, _ models.ClientContext) (models.TokenPair, error) {
	return s.pair, s.registerErr
}

func (s *stubAuthService) Login(_ context.Context, _, _ string, _ *string, _ models.ClientContext) (models.TokenPair, error) {
	return s.pair, s.loginErr
}

func (s *stubAuthService) Refresh(_ context.Context, _ string, _ *string, _ models.ClientContext) (models.TokenPair, error) {
	return s.pair, s.refreshErr
}

func (s *stubAuthService) Logout(_ context.Context, sessionID uuid.UUID) error {
	s.loggedOut = &sessionID
	return nil
}

func (s *stubAuthService) LogoutAll(_ context.Context, userID uuid.UUID) error {
	s.loggedOutAll = &userID
	return nil
}

func (s *stubAuthService) Sessions(_ context.Context, _ uuid.UUID) ([]models.Session, error) {
	return s.sessions, nil
}

func (s *stubAuthService) Auth(_ context.Context, _ *http.Request) (models.User, uuid.UUID, error) {
	return s.user, s.session, s.authErr
}

func somePair() models.TokenPair {
	return models.TokenPair{
		Access:  models.IssuedToken{Value: "access-jwt", ExpiresAt: time.Now().Add(15 * time.Minute)},
		Refresh: models.IssuedToken{Value: "refresh-jti", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeader, uuid.NewString())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func Test_AuthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("tenant header required", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(&stubAuthService{}, logger.NewNoOp())
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("register", func(t *testing.T) {
		t.Parallel()

		stub := &stubAuthService{pair: somePair()}
		router := NewRouter(stub, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"long-enough"}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp tokenPairResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "access-jwt", resp.AccessToken)
		assert.Equal(t, "refresh-jti", resp.RefreshToken)
	})

	t.Run("register conflict", func(t *testing.T) {
		t.Parallel()

		stub := &stubAuthService{registerErr: apperrors.ErrUserAlreadyExists}
		router := NewRouter(stub, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"long-enough"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("register validation", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(&stubAuthService{}, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"not-an-email","password":"long-enough"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("login bad credentials", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			err  error
		}{
			{name: "unknown user", err: apperrors.ErrUserNotFound},
			{name: "locked user", err: apperrors.ErrUserLocked},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router := NewRouter(&stubAuthService{loginErr: tt.err}, logger.NewNoOp())

				rec := doRequest(t, router, http.MethodPost, "/api/auth/login",
					`{"username":"alice","password":"wrong"}`)

				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Contains(t, rec.Body.String(), "Invalid credentials", "rejection must not say why")
			})
		}
	})

	t.Run("refresh rejections are uniform", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			err  error
		}{
			{name: "invalid token", err: apperrors.ErrInvalidToken},
			{name: "reuse detected", err: apperrors.ErrTokenReuseDetected},
			{name: "inactive session", err: apperrors.ErrSessionInactive},
			{name: "proof mismatch", err: apperrors.ErrProofOfPossessionMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router := NewRouter(&stubAuthService{refreshErr: tt.err}, logger.NewNoOp())

				rec := doRequest(t, router, http.MethodPost, "/api/auth/refresh",
					`{"refresh_token":"whatever"}`)

				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Contains(t, rec.Body.String(), "Invalid refresh token", "every rejection must look the same")
			})
		}
	})

	t.Run("refresh success", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(&stubAuthService{pair: somePair()}, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/refresh",
			`{"refresh_token":"refresh-jti"}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp tokenPairResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "refresh-jti", resp.RefreshToken)
	})

	t.Run("logout requires auth", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(&stubAuthService{authErr: apperrors.ErrInvalidToken}, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/logout", ``)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("logout revokes the current session", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		stub := &stubAuthService{user: models.User{ID: uuid.New()}, session: sessionID}
		router := NewRouter(stub, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/logout", ``)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, stub.loggedOut)
		assert.Equal(t, sessionID, *stub.loggedOut)
	})

	t.Run("logout all revokes by user", func(t *testing.T) {
		t.Parallel()

		userID := uuid.New()
		stub := &stubAuthService{user: models.User{ID: userID}, session: uuid.New()}
		router := NewRouter(stub, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodPost, "/api/auth/logout_all", ``)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, stub.loggedOutAll)
		assert.Equal(t, userID, *stub.loggedOutAll)
	})

	t.Run("sessions marks the current one", func(t *testing.T) {
		t.Parallel()

		current := uuid.New()
		other := uuid.New()
		stub := &stubAuthService{
			user:    models.User{ID: uuid.New()},
			session: current,
			sessions: []models.Session{
				{ID: current, IssuedAt: time.Now(), NotAfter: time.Now().Add(time.Hour)},
				{ID: other, IssuedAt: time.Now(), NotAfter: time.Now().Add(time.Hour)},
			},
		}
		router := NewRouter(stub, logger.NewNoOp())

		rec := doRequest(t, router, http.MethodGet, "/api/auth/sessions", ``)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp []struct {
			ID      uuid.UUID `json:"id"`
			Current bool      `json:"current"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 2)
		for _, s := range resp {
			assert.Equal(t, s.ID == current, s.Current)
		}
	})
}

// tenant binding is part of the routing contract: handlers must see the
// tenant from the header in their context
func Test_RouterTenantBinding(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	var seen uuid.UUID

	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenant.MustFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := middleware.TenantMiddleware()(probe)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.TenantHeader, tenantID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, tenantID, seen)
}
