package service

import (
	"context"

	"directchat/internal/domain"
	"directchat/internal/repository"
	"directchat/pkg/logger"
)

type RateLimitService interface {
	// Allow counts one hit for key and reports whether it fits the rule.
	Allow(ctx context.Context, rule domain.RateLimitRule, key string) (bool, error)
	Remaining(ctx context.Context, rule domain.RateLimitRule, key string) (int, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, rule domain.RateLimitRule, key string) (bool, error) {
	count, err := s.rateLimitRepo.Increment(ctx, key, rule.Window)
	if err != nil {
		return false, err
	}
	return count <= int64(rule.Limit), nil
}

func (s *rateLimitService) Remaining(ctx context.Context, rule domain.RateLimitRule, key string) (int, error) {
	count, err := s.rateLimitRepo.Count(ctx, key)
	if err != nil {
		return 0, err
	}
	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
