package handler

import (
	"net/http"

	"directchat/internal/config"
	"directchat/internal/realtime"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// createUpgrader accepts browsers from allowedOrigins and clients that send
// no Origin at all. "*" allows everything.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap["*"] || allowedMap[origin]
		},
	}
}

type WebSocketHandler struct {
	upgrader websocket.Upgrader
	registry *realtime.Registry
	cfg      config.RealtimeConfig
	log      logger.Logger
}

func NewWebSocketHandler(registry *realtime.Registry, cfg config.RealtimeConfig, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: createUpgrader(allowedOrigins),
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Connect upgrades an authenticated request and holds it as the user's live
// connection until either side closes.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err, "user_id", userID)
		return
	}

	if err := realtime.NewConn(userID, ws, h.registry, h.cfg, h.log).Serve(); err != nil {
		h.log.Warn("Live connection refused", "error", err, "user_id", userID)
	}
}
