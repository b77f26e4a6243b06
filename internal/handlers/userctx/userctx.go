package userctx

import (
	"context"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated principal of a request: the user and the
// session whose access token was presented.
type Identity struct {
	User      models.User
	SessionID uuid.UUID
}

// Create a new context with the identity
func New(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Extract the identity from the context
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
