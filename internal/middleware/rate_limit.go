package middleware

import (
	"net/http"
	"strconv"

	"directchat/internal/domain"
	"directchat/internal/service"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit applies rule to route. User-scoped rules fall back to the client IP
// when the request is not authenticated.
func (m *RateLimitMiddleware) Limit(route string, rule domain.RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		scope := domain.RateLimitScopeIP
		if rule.Scope == domain.RateLimitScopeUser {
			if userID, ok := c.Get(ContextUserID); ok {
				if id, ok := userID.(uuid.UUID); ok {
					subject = id.String()
					scope = domain.RateLimitScopeUser
				}
			}
		}
		key := domain.RateLimitRule{Scope: scope}.Key(route, subject)

		allowed, err := m.rateLimitService.Allow(c.Request.Context(), rule, key)
		if err != nil {
			// Fail open.
			m.log.Error("Rate limit check failed", "error", err, "key", key)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		remaining, err := m.rateLimitService.Remaining(c.Request.Context(), rule, key)
		if err == nil {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		c.Next()
	}
}
