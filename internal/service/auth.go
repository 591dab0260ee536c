package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"directchat/internal/config"
	"directchat/internal/domain"
	"directchat/internal/repository"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/jwt"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.AuthResponse, error)
	Login(ctx context.Context, email, password string) (*domain.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	// ValidateToken resolves the user behind an access token.
	ValidateToken(ctx context.Context, tokenString string) (*domain.User, error)
	Logout(ctx context.Context, refreshToken string) error
}

type RegisterInput struct {
	Email      string  `json:"email" binding:"required"`
	Password   string  `json:"password" binding:"required"`
	FullName   string  `json:"fullName" binding:"required"`
	ProfilePic *string `json:"profilePic"`
}

type authService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	audit       AuditService
	jwtCfg      config.JWTConfig
	log         logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, audit AuditService, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		audit:       audit,
		jwtCfg:      jwtCfg,
		log:         log,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	password := strings.TrimSpace(in.Password)

	if email == "" {
		return nil, apperrors.NewValidationError("email", "is required")
	}
	if len(email) > 255 {
		return nil, apperrors.NewValidationError("email", "is too long")
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return nil, apperrors.NewValidationError("email", "invalid format")
	}
	if len(password) < 6 {
		return nil, apperrors.NewValidationError("password", "must be at least 6 characters")
	}
	if fullName == "" {
		return nil, apperrors.NewValidationError("fullName", "is required")
	}
	if len(fullName) > 100 {
		return nil, apperrors.NewValidationError("fullName", "is too long (max 100 characters)")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(passwordHash),
		FullName:     fullName,
		ProfilePic:   blankToNil(in.ProfilePic),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, apperrors.Persistence("create user", err)
	}

	s.audit.LogEvent(ctx, &user.ID, domain.AuditUserRegistered, map[string]interface{}{"email": email})

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &domain.AuthResponse{User: user, Tokens: tokens}, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*domain.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, apperrors.Persistence("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &domain.AuthResponse{User: user, Tokens: tokens}, nil
}

func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := jwt.ValidateRefreshToken(refreshToken, s.jwtCfg.RefreshSecret)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	session, err := s.sessionRepo.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidToken) {
			return nil, err
		}
		return nil, apperrors.Persistence("get session", err)
	}
	if session.UserID != userID {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, apperrors.Persistence("get user", err)
	}

	// Rotate: the old refresh token is single use.
	if err := s.sessionRepo.Delete(ctx, refreshToken); err != nil {
		s.log.Warn("Failed to revoke old session", "error", err, "user_id", userID)
	}
	return s.issueTokens(ctx, user)
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.AccessSecret)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, apperrors.Persistence("get user", err)
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessionRepo.Delete(ctx, refreshToken); err != nil {
		return apperrors.Persistence("delete session", err)
	}
	return nil
}

func (s *authService) issueTokens(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := jwt.GenerateAccessToken(user.ID, user.Email, s.jwtCfg.Issuer, s.jwtCfg.AccessSecret, s.jwtCfg.AccessTTL)
	if err != nil {
		s.log.Error("Failed to generate access token", "error", err)
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(user.ID, s.jwtCfg.Issuer, s.jwtCfg.RefreshSecret, s.jwtCfg.RefreshTTL)
	if err != nil {
		s.log.Error("Failed to generate refresh token", "error", err)
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now().UTC()
	session := &domain.Session{
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.jwtCfg.RefreshTTL),
	}
	if err := s.sessionRepo.Create(ctx, session, refreshToken); err != nil {
		return nil, apperrors.Persistence("create session", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtCfg.AccessTTL.Seconds()),
	}, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	return &trimmed
}
