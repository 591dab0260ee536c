package middleware

import (
	"net/http"

	"directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Server-side failures are logged and their message is hidden.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)
		message := err.Error()
		if statusCode >= http.StatusInternalServerError {
			log.Error("Request failed",
				"error", err.Err,
				"method", c.Request.Method,
				"path", c.FullPath(),
			)
			message = http.StatusText(statusCode)
		}

		c.JSON(statusCode, gin.H{"error": message})
	}
}
