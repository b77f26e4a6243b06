package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/handlers/render"
	"github.com/osanchez/identity-core/internal/handlers/userctx"
	"github.com/osanchez/identity-core/internal/models"
)

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.User, uuid.UUID, error)
}

// AuthMiddleware rejects requests without a valid bearer access token and
// puts the authenticated identity into the request context.
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, sessionID, err := as.Auth(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), userctx.Identity{User: user, SessionID: sessionID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
