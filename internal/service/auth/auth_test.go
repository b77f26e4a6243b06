package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
	"github.com/osanchez/identity-core/internal/repository/postgres"
	"github.com/osanchez/identity-core/internal/service/auth/tokenmanager"
	"github.com/osanchez/identity-core/internal/service/rotation"
	"github.com/osanchez/identity-core/internal/service/session"
	"github.com/osanchez/identity-core/internal/service/user"
	"github.com/osanchez/identity-core/internal/testutil"
)

// newService wires the full stack over the given storage
func newService(t *testing.T, storage repository.Storage) *Service {
	t.Helper()

	engine, err := rotation.New(rotation.Config{RefreshTTL: time.Hour}, storage, nil)
	require.NoError(t, err)

	sessions, err := session.New(session.Config{SessionTTL: 24 * time.Hour}, storage, nil)
	require.NoError(t, err)

	tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret", AccessTTL: time.Minute}, engine)
	require.NoError(t, err)

	users := user.New(nil, storage.User())

	svc, err := New(users, sessions, tokens, nil)
	require.NoError(t, err)

	return svc
}

func bearerRequest(ctx context.Context, access string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	return req
}

func Test_AuthService(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("register logs the user in", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			svc := newService(t, storage)
			ctx, _ := testutil.TenantContext(t)

			pair, err := svc.Register(ctx, "alice", "alice@example.com", "long-enough", models.ClientContext{})

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value)
			assert.NotEmpty(t, pair.Refresh.Value)

			u, sessionID, err := svc.Auth(ctx, bearerRequest(ctx, pair.Access.Value))
			require.NoError(t, err)
			assert.Equal(t, "alice", u.Username)
			assert.NotZero(t, sessionID)
		})
	})

	t.Run("login then refresh", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			svc := newService(t, storage)
			ctx, _ := testutil.TenantContext(t)

			_, err := svc.Register(ctx, "bob", "bob@example.com", "long-enough", models.ClientContext{})
			require.NoError(t, err)

			pair, err := svc.Login(ctx, "bob", "long-enough", nil, models.ClientContext{})
			require.NoError(t, err)

			next, err := svc.Refresh(ctx, pair.Refresh.Value, nil, models.ClientContext{})
			require.NoError(t, err)
			assert.NotEqual(t, pair.Refresh.Value, next.Refresh.Value, "refresh must rotate the token")

			// the consumed token is a replay now
			_, err = svc.Refresh(ctx, pair.Refresh.Value, nil, models.ClientContext{})
			require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

			// and the cascade killed the rotated one too
			_, err = svc.Refresh(ctx, next.Refresh.Value, nil, models.ClientContext{})
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		})
	})

	t.Run("login wrong password", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			svc := newService(t, postgres.NewStorage(tx))
			ctx, _ := testutil.TenantContext(t)

			_, err := svc.Register(ctx, "carol", "carol@example.com", "long-enough", models.ClientContext{})
			require.NoError(t, err)

			_, err = svc.Login(ctx, "carol", "wrong", nil, models.ClientContext{})

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("logout invalidates the access token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			svc := newService(t, postgres.NewStorage(tx))
			ctx, _ := testutil.TenantContext(t)

			pair, err := svc.Register(ctx, "dave", "dave@example.com", "long-enough", models.ClientContext{})
			require.NoError(t, err)

			_, sessionID, err := svc.Auth(ctx, bearerRequest(ctx, pair.Access.Value))
			require.NoError(t, err)

			require.NoError(t, svc.Logout(ctx, sessionID))

			_, _, err = svc.Auth(ctx, bearerRequest(ctx, pair.Access.Value))
			require.ErrorIs(t, err, apperrors.ErrSessionInactive)

			_, err = svc.Refresh(ctx, pair.Refresh.Value, nil, models.ClientContext{})
			require.ErrorIs(t, err, apperrors.ErrInvalidToken, "logout revokes the refresh side eagerly")
		})
	})

	t.Run("logout all closes every session", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			svc := newService(t, postgres.NewStorage(tx))
			ctx, _ := testutil.TenantContext(t)

			first, err := svc.Register(ctx, "erin", "erin@example.com", "long-enough", models.ClientContext{})
			require.NoError(t, err)
			second, err := svc.Login(ctx, "erin", "long-enough", nil, models.ClientContext{})
			require.NoError(t, err)

			u, _, err := svc.Auth(ctx, bearerRequest(ctx, first.Access.Value))
			require.NoError(t, err)

			sessions, err := svc.Sessions(ctx, u.ID)
			require.NoError(t, err)
			require.Len(t, sessions, 2)

			require.NoError(t, svc.LogoutAll(ctx, u.ID))

			sessions, err = svc.Sessions(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, sessions)

			for _, pair := range []models.TokenPair{first, second} {
				_, err = svc.Refresh(ctx, pair.Refresh.Value, nil, models.ClientContext{})
				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			}
		})
	})

	t.Run("auth rejections", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			svc := newService(t, postgres.NewStorage(tx))
			ctx, _ := testutil.TenantContext(t)

			pair, err := svc.Register(ctx, "frank", "frank@example.com", "long-enough", models.ClientContext{})
			require.NoError(t, err)

			t.Run("no header", func(t *testing.T) {
				_, _, err := svc.Auth(ctx, bearerRequest(ctx, ""))
				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})

			t.Run("garbage token", func(t *testing.T) {
				_, _, err := svc.Auth(ctx, bearerRequest(ctx, "not.a.jwt"))
				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})

			t.Run("token of another tenant", func(t *testing.T) {
				otherCtx, _ := testutil.TenantContext(t)
				_, _, err := svc.Auth(otherCtx, bearerRequest(otherCtx, pair.Access.Value))
				require.ErrorIs(t, err, apperrors.ErrTenantMismatch)
			})
		})
	})
}
