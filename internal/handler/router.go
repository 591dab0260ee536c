package handler

import (
	"directchat/internal/config"
	"directchat/internal/domain"
	"directchat/internal/middleware"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

func NewRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	userRule := domain.RateLimitRule{
		Scope:  domain.RateLimitScopeUser,
		Limit:  cfg.RateLimit.Requests,
		Window: cfg.RateLimit.Window,
	}
	ipRule := domain.RateLimitRule{
		Scope:  domain.RateLimitScopeIP,
		Limit:  cfg.RateLimit.Requests,
		Window: cfg.RateLimit.Window,
	}

	router.GET("/health", handlers.Health.Check)
	router.GET("/ws", authMiddleware.RequireAuth(), handlers.WebSocket.Connect)

	v1 := router.Group("/api/v1")
	{
		public := v1.Group("/auth")
		{
			public.POST("/register", rateLimitMiddleware.Limit("register", ipRule), handlers.Auth.Register)
			public.POST("/login", rateLimitMiddleware.Limit("login", ipRule), handlers.Auth.Login)
			public.POST("/refresh", handlers.Auth.RefreshToken)
			public.POST("/logout", handlers.Auth.Logout)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			users := protected.Group("/users")
			{
				users.GET("/me", handlers.User.GetMe)
				users.PUT("/me", handlers.User.UpdateMe)
			}

			messages := protected.Group("/messages")
			{
				messages.GET("/users", handlers.Message.Contacts)
				messages.GET("/online", handlers.Message.Online)
				messages.GET("/:id", handlers.Message.Conversation)
				messages.POST("/send/:id", rateLimitMiddleware.Limit("send", userRule), handlers.Message.Send)
				messages.PUT("/read/:messageId", handlers.Message.MarkRead)
				messages.PUT("/edit/:messageId", handlers.Message.Edit)
				messages.DELETE("/:messageId", handlers.Message.Delete)
				messages.POST("/forward/:messageId/:id", rateLimitMiddleware.Limit("forward", userRule), handlers.Message.Forward)
			}
		}
	}

	return router
}
