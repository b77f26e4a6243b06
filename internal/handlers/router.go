package handlers

import (
	"net/http"

	"github.com/osanchez/identity-core/internal/handlers/middleware"
	"github.com/osanchez/identity-core/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(auth authService, l logger.Logger) http.Handler {
	authMiddleware := middleware.AuthMiddleware(auth)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(auth, l))
	apiauth.Handle("POST /login", handleLogin(auth, l))
	apiauth.Handle("POST /refresh", handleTokenRefresh(auth, l))

	apiauth.Handle("POST /logout", withAuth(handleLogout(auth, l)))
	apiauth.Handle("POST /logout_all", withAuth(handleLogoutAll(auth, l)))
	apiauth.Handle("GET /sessions", withAuth(handleListSessions(auth, l)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(l),
		middleware.TenantMiddleware(),
	)

	return handler
}
