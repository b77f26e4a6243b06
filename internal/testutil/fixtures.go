package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
)

// SeedUser creates a user with generated credentials in the given tenant
func SeedUser(t *testing.T, ctx context.Context, storage repository.Storage, tenantID uuid.UUID) models.User {
	t.Helper()

	name := "user-" + uuid.NewString()[:8]
	user, err := storage.User().Create(ctx, tenantID, repository.CreateUserParams{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "$2a$10$fixture.hash.not.a.real.password.hash.value.0000000000",
	})
	require.NoError(t, err, "Error happened when seeding user")

	return user
}

// SeedSession opens a session for the user valid for the given duration
func SeedSession(t *testing.T, ctx context.Context, storage repository.Storage, user models.User, ttl time.Duration) models.Session {
	t.Helper()

	now := time.Now()
	session, err := storage.Session().Create(ctx, user.TenantID, repository.CreateSessionParams{
		UserID:    user.ID,
		IssuedAt:  now,
		NotBefore: now,
		NotAfter:  now.Add(ttl),
	})
	require.NoError(t, err, "Error happened when seeding session")

	return session
}
