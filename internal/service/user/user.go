package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osanchez/identity-core/internal/apperrors"
	"github.com/osanchez/identity-core/internal/models"
	"github.com/osanchez/identity-core/internal/repository"
	"github.com/osanchez/identity-core/internal/tenant"
)

type Service struct {
	hasher   PasswordHasher
	userRepo repository.UserRepo
}

func New(hasher PasswordHasher, userRepo repository.UserRepo) *Service {
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &Service{
		hasher:   hasher,
		userRepo: userRepo,
	}
}

func (s *Service) Create(ctx context.Context, username string, email string, password string) (models.User, error) {
	var user models.User

	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return user, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	user, err = s.userRepo.Create(ctx, tenantID, repository.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// VerifyPassword authenticates the user by username and password.
// Locked users fail with ErrUserLocked, a wrong password or unknown
// username both fail with ErrUserNotFound.
func (s *Service) VerifyPassword(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User

	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return user, err
	}

	user, err = s.userRepo.GetByUsername(ctx, tenantID, username)
	if err != nil {
		// Compare against a throwaway hash anyway so unknown usernames
		// take as long as wrong passwords
		_ = s.hasher.Compare(dummyHash, password)
		return models.User{}, apperrors.ErrUserNotFound
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return models.User{}, apperrors.ErrUserNotFound
	}

	if user.Locked() {
		return models.User{}, apperrors.ErrUserLocked
	}

	return user, nil
}

// TouchLastLogin records a successful authentication moment
func (s *Service) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}

	return s.userRepo.TouchLastLogin(ctx, tenantID, userID, at)
}

func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return models.User{}, err
	}

	return s.userRepo.GetByID(ctx, tenantID, userID)
}
