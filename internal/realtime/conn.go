package realtime

import (
	"sync"
	"time"

	"directchat/internal/config"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn pumps events from the registry to one websocket. Client frames are
// read only to keep the deadline alive.
type Conn struct {
	userID   uuid.UUID
	ws       *websocket.Conn
	registry *Registry
	cfg      config.RealtimeConfig
	log      logger.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(userID uuid.UUID, ws *websocket.Conn, registry *Registry, cfg config.RealtimeConfig, log logger.Logger) *Conn {
	return &Conn{
		userID:   userID,
		ws:       ws,
		registry: registry,
		cfg:      cfg,
		log:      log.With("user_id", userID),
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

// Send enqueues data without blocking. A full buffer means the peer cannot
// keep up, so the connection is dropped instead of queuing.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("Send buffer full, dropping connection")
		c.Close()
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve registers the connection and blocks until it ends.
func (c *Conn) Serve() error {
	if err := c.registry.Register(c.userID, c); err != nil {
		c.Close()
		return err
	}
	defer func() {
		c.registry.Unregister(c.userID, c)
		c.Close()
	}()

	go c.writePump()
	c.readPump()
	return nil
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Websocket closed unexpectedly", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("Failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
