package handler

import (
	"directchat/internal/config"
	"directchat/internal/middleware"
	"directchat/internal/realtime"
	"directchat/internal/service"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Message   *MessageHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, registry *realtime.Registry, pinger Pinger, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(pinger, registry),
		Auth:      NewAuthHandler(services.Auth, log),
		User:      NewUserHandler(services.User, log),
		Message:   NewMessageHandler(services.Message, log),
		WebSocket: NewWebSocketHandler(registry, cfg.Realtime, cfg.Server.AllowedOrigins, log),
	}
}

// currentUserID reads the identity set by RequireAuth. It records an
// unauthorized error when missing.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(middleware.ContextUserID)
	if !exists {
		_ = c.Error(apperrors.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(apperrors.NewValidationError(name, "invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
