// Package tenant carries the active tenant through context.Context.
// Every repository call is scoped by it; there is no way to address
// another tenant's rows through the public operations.
package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/apperrors"
)

type ctxKey string

const tenantKey ctxKey = "tenant"

// Create a new context bound to the tenant
func New(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// Extract the tenant from the context
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantKey).(uuid.UUID)
	return id, ok
}

// MustFromContext returns the tenant or ErrTenantMismatch when the context
// carries none. A missing tenant is a programming error, callers should
// treat it as internal.
func MustFromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := FromContext(ctx)
	if !ok || id == uuid.Nil {
		return uuid.Nil, apperrors.ErrTenantMismatch
	}
	return id, nil
}
