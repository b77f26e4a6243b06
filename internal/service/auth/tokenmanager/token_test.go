package tokenmanager

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osanchez/identity-core/internal/models"
)

func Test_New(t *testing.T) {
	t.Parallel()

	t.Run("secret key required", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{}, nil)

		require.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()

		m, err := New(Config{SecretKey: "secret"}, nil)

		require.NoError(t, err)
		assert.Equal(t, defaultSigningMethod, m.alg.Alg())
		assert.Equal(t, defaultAccessTokenTTL, m.accessTTL)
		assert.NotNil(t, m.now)
	})
}

func Test_AccessToken(t *testing.T) {
	t.Parallel()

	user := models.User{ID: uuid.New(), TenantID: uuid.New()}
	sessionID := uuid.New()
	refresh := models.RefreshToken{JTI: "refresh-jti", ExpiresAt: time.Now().Add(time.Hour)}

	t.Run("pair round trip", func(t *testing.T) {
		t.Parallel()

		m, err := New(Config{SecretKey: "secret", AccessTTL: time.Minute}, nil)
		require.NoError(t, err)

		pair, err := m.pairWithRefresh(user, sessionID, refresh)
		require.NoError(t, err)

		assert.Equal(t, "refresh-jti", pair.Refresh.Value)
		assert.Equal(t, refresh.ExpiresAt, pair.Refresh.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Minute), pair.Access.ExpiresAt, 2*time.Second)

		claims, err := m.ParseAccess(pair.Access.Value)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, user.TenantID, claims.TenantID)
		assert.Equal(t, sessionID, claims.SessionID)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		t.Parallel()

		signer, err := New(Config{SecretKey: "secret-one"}, nil)
		require.NoError(t, err)
		verifier, err := New(Config{SecretKey: "secret-two"}, nil)
		require.NoError(t, err)

		pair, err := signer.pairWithRefresh(user, sessionID, refresh)
		require.NoError(t, err)

		_, err = verifier.ParseAccess(pair.Access.Value)
		require.Error(t, err)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		t.Parallel()

		past := time.Now().Add(-time.Hour)
		m, err := New(Config{
			SecretKey: "secret",
			AccessTTL: time.Minute,
			Now:       func() time.Time { return past },
		}, nil)
		require.NoError(t, err)

		pair, err := m.pairWithRefresh(user, sessionID, refresh)
		require.NoError(t, err)

		_, err = m.ParseAccess(pair.Access.Value)
		require.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		t.Parallel()

		m, err := New(Config{SecretKey: "secret"}, nil)
		require.NoError(t, err)

		_, err = m.ParseAccess("not.a.jwt")
		require.Error(t, err)
	})
}
