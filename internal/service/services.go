package service

import (
	"directchat/internal/config"
	"directchat/internal/repository"
	"directchat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	User      UserService
	Message   MessageService
	RateLimit RateLimitService
	Audit     AuditService
}

func NewServices(repos *repository.Repositories, notifier Notifier, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)

	services := &Services{
		Auth:      NewAuthService(repos.User, repos.Session, audit, cfg.JWT, log),
		User:      NewUserService(repos.User, log),
		Message:   NewMessageService(repos.Message, repos.User, repos.Presence, audit, notifier, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
		Audit:     audit,
	}

	log.Info("Services initialized")
	return services
}
