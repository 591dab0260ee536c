package service

import (
	"context"
	"strings"

	"directchat/internal/domain"
	"directchat/internal/repository"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

type UserService interface {
	GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateMe(ctx context.Context, userID uuid.UUID, fullName string, profilePic *string) (*domain.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, log logger.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		log:      log,
	}
}

func (s *userService) GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, wrapStoreError("get user", err)
	}
	user.PasswordHash = ""
	return user, nil
}

// UpdateMe keeps the current name when fullName is blank and the current
// picture when profilePic is nil.
func (s *userService) UpdateMe(ctx context.Context, userID uuid.UUID, fullName string, profilePic *string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, wrapStoreError("get user", err)
	}

	if name := strings.TrimSpace(fullName); name != "" {
		if len(name) > 100 {
			return nil, apperrors.NewValidationError("fullName", "is too long (max 100 characters)")
		}
		user.FullName = name
	}
	if profilePic != nil {
		user.ProfilePic = blankToNil(profilePic)
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, wrapStoreError("update user", err)
	}

	user.PasswordHash = ""
	return user, nil
}
