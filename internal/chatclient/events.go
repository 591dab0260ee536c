package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/gorilla/websocket"
)

var ErrSourceClosed = errors.New("event source closed")

// EventSource delivers push events to subscribers. The returned func
// removes the subscription.
type EventSource interface {
	Subscribe(fn func(domain.PushEvent)) (cancel func())
}

type WSOption func(*WSEventSource)

// WithOnReconnect runs fn after a dropped connection is re-established.
// Events sent while disconnected are lost, so fn should refetch.
func WithOnReconnect(fn func()) WSOption {
	return func(s *WSEventSource) {
		s.onReconnect = fn
	}
}

func WithReconnectDelay(d time.Duration) WSOption {
	return func(s *WSEventSource) {
		s.reconnectDelay = d
	}
}

func WithDialer(dialer *websocket.Dialer) WSOption {
	return func(s *WSEventSource) {
		s.dialer = dialer
	}
}

// WSEventSource reads push events from the server websocket. After a drop it
// tries exactly one reconnect; if that fails the source stops.
type WSEventSource struct {
	url            string
	token          string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	onReconnect    func()
	log            logger.Logger

	mu     sync.Mutex
	subs   map[int]func(domain.PushEvent)
	nextID int
	conn   *websocket.Conn
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewWSEventSource(url, token string, log logger.Logger, opts ...WSOption) *WSEventSource {
	s := &WSEventSource{
		url:            url,
		token:          token,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: time.Second,
		log:            log,
		subs:           make(map[int]func(domain.PushEvent)),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the server and starts reading in the background.
func (s *WSEventSource) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSourceClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.run(conn)
	return nil
}

func (s *WSEventSource) Subscribe(fn func(domain.PushEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Done is closed once the source has stopped for good.
func (s *WSEventSource) Done() <-chan struct{} {
	return s.done
}

func (s *WSEventSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.stop()
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (s *WSEventSource) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	return conn, err
}

func (s *WSEventSource) run(conn *websocket.Conn) {
	defer s.stop()

	for {
		s.read(conn)

		if s.isClosed() {
			return
		}
		s.log.Warn("Live connection dropped, reconnecting", "url", s.url)

		time.Sleep(s.reconnectDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		next, err := s.dial(ctx)
		cancel()
		if err != nil {
			s.log.Error("Reconnect failed", "error", err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = next.Close()
			return
		}
		s.conn = next
		s.mu.Unlock()
		conn = next

		s.log.Info("Live connection re-established")
		if s.onReconnect != nil {
			s.onReconnect()
		}
	}
}

// read dispatches frames until the connection fails.
func (s *WSEventSource) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Live connection read error", "error", err)
			}
			_ = conn.Close()
			return
		}

		var event domain.PushEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.log.Warn("Malformed push event", "error", err)
			continue
		}
		s.dispatch(event)
	}
}

func (s *WSEventSource) dispatch(event domain.PushEvent) {
	s.mu.Lock()
	subs := make([]func(domain.PushEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (s *WSEventSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *WSEventSource) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}
