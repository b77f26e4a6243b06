package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/osanchez/identity-core/internal/db"
	"github.com/osanchez/identity-core/internal/handlers"
	"github.com/osanchez/identity-core/internal/logger"
	"github.com/osanchez/identity-core/internal/repository/postgres"
	"github.com/osanchez/identity-core/internal/service/auth"
	"github.com/osanchez/identity-core/internal/service/auth/tokenmanager"
	"github.com/osanchez/identity-core/internal/service/rotation"
	"github.com/osanchez/identity-core/internal/service/session"
	"github.com/osanchez/identity-core/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	engine, err := rotation.New(rotation.Config{
		RefreshTTL:         c.RefreshTTL,
		KeepSessionOnReuse: c.KeepSessionOnReuse,
	}, storage, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating rotation engine. Err: %w", err)
	}

	sessionService, err := session.New(session.Config{SessionTTL: c.SessionTTL}, storage, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating session service. Err: %w", err)
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.SecretKey,
		AccessTTL: c.AccessTTL,
	}, engine)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	userService := user.New(user.DefaultHasher, storage.User())

	authService, err := auth.New(userService, sessionService, tokenManager, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, l)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Logger:     l,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
