package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/handlers/render"
	"github.com/osanchez/identity-core/internal/tenant"
)

// TenantHeader names the header carrying the tenant identifier.
// In production a gateway sets it after resolving the tenant from the host
// or the client certificate; the core only requires that it is present.
const TenantHeader = "X-Tenant-ID"

// TenantMiddleware binds the request context to the tenant named in the
// header. Requests without a parseable tenant never reach the handlers.
func TenantMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(r.Header.Get(TenantHeader))
			if err != nil || id == uuid.Nil {
				render.ServiceError(w, "Unknown tenant", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenant.New(r.Context(), id)))
		})
	}
}
