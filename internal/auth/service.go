package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vma-portal/portal/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Profile returns the profile for userID. Users without a profile row get a
// submitter profile with no organisation.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	p, err := s.repo.FindProfile(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return &Profile{UserID: userID, Role: shared.RoleSubmitter}, nil
	}
	if err != nil {
		return nil, shared.Upstream("auth: load profile", err)
	}
	return p, nil
}

// Principal resolves an active user and their profile. Unknown or inactive users
// are unauthenticated.
func (s *Service) Principal(ctx context.Context, userID uuid.UUID) (*shared.Principal, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrUnauthenticated
	}
	if err != nil {
		return nil, shared.Upstream("auth: load user", err)
	}
	if !user.IsActive {
		return nil, shared.ErrUnauthenticated
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &shared.Principal{
		UserID:       user.ID,
		Email:        user.Email,
		Organisation: profile.Organisation,
		Role:         profile.Role,
	}, nil
}

// Organisations lists organisations known from profiles.
func (s *Service) Organisations(ctx context.Context) ([]string, error) {
	orgs, err := s.repo.ListOrganisations(ctx)
	if err != nil {
		return nil, shared.Upstream("auth: list organisations", err)
	}
	return orgs, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
