package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/class-enroll-api/internal/models"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Search(ctx context.Context, q string, limit int) ([]models.UserMini, error)
	ListInstructors(ctx context.Context) ([]models.UserMini, error)
}

// UserService exposes the account lookups the enrollment flows depend on.
type UserService struct {
	repo   userRepository
	logger *zap.Logger
}

// NewUserService constructs UserService.
func NewUserService(repo userRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// Me returns the profile of the authenticated user.
func (s *UserService) Me(ctx context.Context, userID string) (*models.Profile, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	profile := profileOf(user)
	return &profile, nil
}

// Search matches users against the query text.
func (s *UserService) Search(ctx context.Context, q string) ([]models.UserMini, error) {
	users, err := s.repo.Search(ctx, strings.TrimSpace(q), 20)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search users")
	}
	return users, nil
}

// Instructors lists active members of the instructor group.
func (s *UserService) Instructors(ctx context.Context) ([]models.UserMini, error) {
	instructors, err := s.repo.ListInstructors(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}
	return instructors, nil
}
