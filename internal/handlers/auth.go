package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/handlers/render"
	"github.com/osanchez/identity-core/internal/handlers/userctx"
	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/models"
)

type authService interface {
	// Register user and log them in
	// Has to return apperrors.ErrUserAlreadyExists if username or email is taken
	Register(ctx context.Context, username string, email string, password string, client models.ClientContext) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound on bad credentials
	Login(ctx context.Context, username string, password string, cnfJkt *string, client models.ClientContext) (models.TokenPair, error)

	// Rotate the presented refresh token into a new pair
	Refresh(ctx context.Context, refresh string, proof *string, client models.ClientContext) (models.TokenPair, error)

	// Revoke one session with its tokens
	Logout(ctx context.Context, sessionID uuid.UUID) error

	// Revoke everything the user holds
	LogoutAll(ctx context.Context, userID uuid.UUID) error

	// Active sessions of the user
	Sessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error)

	// Authenticate request by bearer access token
	Auth(ctx context.Context, r *http.Request) (models.User, uuid.UUID, error)
}

type tokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

func pairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt.Unix(),
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt.Unix(),
	}
}

// clientContext captures the caller's device metadata from the request
func clientContext(r *http.Request, deviceID *string) models.ClientContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	var ipPtr, uaPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if ua := r.UserAgent(); ua != "" {
		uaPtr = &ua
	}

	return models.ClientContext{DeviceID: deviceID, IP: ipPtr, UserAgent: uaPtr}
}

func handleRegister(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Username string  `json:"username" validate:"required,min=2,max=64"`
		Email    string  `json:"email" validate:"required,email"`
		Password string  `json:"password" validate:"required,min=8"`
		DeviceID *string `json:"device_id,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Register(r.Context(), data.Username, data.Email, data.Password, clientContext(r, data.DeviceID))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				l.Error("register failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, pairResponse(pair))
	})
}

func handleLogin(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Username string  `json:"username" validate:"required"`
		Password string  `json:"password" validate:"required"`
		CnfJkt   *string `json:"cnf_jkt,omitempty"`
		DeviceID *string `json:"device_id,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.Username, data.Password, data.CnfJkt, clientContext(r, data.DeviceID))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound), errors.Is(err, apperrors.ErrUserLocked):
				// Same response for unknown user, wrong password and locked
				// account: no oracle for either
				render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			default:
				l.Error("login failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, pairResponse(pair))
	})
}

func handleTokenRefresh(auth authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string  `json:"refresh_token" validate:"required"`
		Proof        *string `json:"proof,omitempty"`
		DeviceID     *string `json:"device_id,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Refresh(r.Context(), data.RefreshToken, data.Proof, clientContext(r, data.DeviceID))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidToken),
				errors.Is(err, apperrors.ErrTokenReuseDetected),
				errors.Is(err, apperrors.ErrSessionInactive),
				errors.Is(err, apperrors.ErrProofOfPossessionMismatch):
				// Uniform rejection: a caller must not learn why the token
				// failed. Reuse alerting already happened inside the engine.
				render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			default:
				l.Error("refresh failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, pairResponse(pair))
	})
}

func handleLogout(auth authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := auth.Logout(r.Context(), identity.SessionID); err != nil {
			l.Error("logout failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Logged out"})
	})
}

func handleLogoutAll(auth authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := auth.LogoutAll(r.Context(), identity.User.ID); err != nil {
			l.Error("global logout failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Logged out everywhere"})
	})
}

func handleListSessions(auth authService, l logger.Logger) http.Handler {
	type sessionResponse struct {
		ID        uuid.UUID `json:"id"`
		DeviceID  *string   `json:"device_id,omitempty"`
		IP        *string   `json:"ip,omitempty"`
		UserAgent *string   `json:"user_agent,omitempty"`
		IssuedAt  int64     `json:"issued_at"`
		NotAfter  int64     `json:"not_after"`
		Current   bool      `json:"current"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		sessions, err := auth.Sessions(r.Context(), identity.User.ID)
		if err != nil {
			l.Error("session listing failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		response := make([]sessionResponse, 0, len(sessions))
		for _, s := range sessions {
			response = append(response, sessionResponse{
				ID:        s.ID,
				DeviceID:  s.Client.DeviceID,
				IP:        s.Client.IP,
				UserAgent: s.Client.UserAgent,
				IssuedAt:  s.IssuedAt.Unix(),
				NotAfter:  s.NotAfter.Unix(),
				Current:   s.ID == identity.SessionID,
			})
		}

		render.JSON(w, response)
	})
}
