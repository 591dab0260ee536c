package handler

import (
	"context"
	"net/http"
	"time"

	"directchat/internal/realtime"

	"github.com/gin-gonic/gin"
)

// Pinger checks one backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	pinger   Pinger
	registry *realtime.Registry
}

func NewHealthHandler(pinger Pinger, registry *realtime.Registry) *HealthHandler {
	return &HealthHandler{
		pinger:   pinger,
		registry: registry,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":      "ok",
		"service":     "directchat",
		"connections": len(h.registry.Online()),
	}
	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}

	c.JSON(status, body)
}
