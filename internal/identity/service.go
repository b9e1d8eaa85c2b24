package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates a failed email/password check.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service manages identity lifecycle: email/password registration and
// social-login onboarding.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput captures an email/password signup.
type RegisterInput struct {
	Handle   string
	Email    string
	Password string
}

// Register creates a new user with a hashed password.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	if len(input.Password) < 8 {
		return User{}, errors.New("password must be at least 8 characters")
	}
	if input.Handle == "" || input.Email == "" {
		return User{}, errors.New("handle and email are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Handle:       input.Handle,
		Email:        input.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies email/password credentials.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByEmail(ctx, creds.Email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	_ = s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC())
	return user, nil
}

// SocialLogin finds or creates the user for a provider-asserted identity.
// Returns created=true when a new account was provisioned, so the caller can
// create the wallet that goes with it.
func (s *Service) SocialLogin(ctx context.Context, profile SocialProfile) (User, bool, error) {
	if profile.Provider == "" || profile.ProviderUID == "" {
		return User{}, false, errors.New("provider and provider uid are required")
	}

	if user, err := s.repo.FindByProvider(ctx, profile.Provider, profile.ProviderUID); err == nil {
		_ = s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC())
		return user, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	user := User{
		ID:          uuid.NewString(),
		Handle:      profile.Handle,
		Email:       profile.Email,
		Provider:    profile.Provider,
		ProviderUID: profile.ProviderUID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, false, err
	}
	return user, true, nil
}
