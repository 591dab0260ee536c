package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"directchat/internal/config"
	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		SendBuffer:     4,
		WriteWait:      time.Second,
		PongWait:       5 * time.Second,
		MaxMessageSize: 1024,
	}
}

// newServer serves one Conn per request for the user named in ?user=.
func newServer(t *testing.T, registry *Registry) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = NewConn(userID, ws, registry, testRealtimeConfig(), logger.Nop()).Serve()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID.String()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestConnDeliversEvents(t *testing.T) {
	registry := NewRegistry(nil, logger.Nop())
	srv := newServer(t, registry)
	userID := uuid.New()

	ws := dial(t, srv, userID)
	waitFor(t, func() bool {
		_, ok := registry.Lookup(userID)
		return ok
	})

	msg := domain.Message{ID: uuid.New(), SenderID: uuid.New(), ReceiverID: userID, Text: domain.StringPtr("hi")}
	if !registry.Deliver(userID, domain.EventNewMessage, msg) {
		t.Fatalf("Deliver() = false")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var event domain.PushEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := event.Message()
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if got.ID != msg.ID || *got.Text != "hi" {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	registry := NewRegistry(nil, logger.Nop())
	srv := newServer(t, registry)
	userID := uuid.New()

	first := dial(t, srv, userID)
	waitFor(t, func() bool {
		_, ok := registry.Lookup(userID)
		return ok
	})
	firstPeer, _ := registry.Lookup(userID)

	second := dial(t, srv, userID)
	waitFor(t, func() bool {
		peer, ok := registry.Lookup(userID)
		return ok && peer != firstPeer
	})

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("first connection still open after replacement")
	}

	if !registry.Deliver(userID, domain.EventMessageDeleted, "gone") {
		t.Fatalf("Deliver() = false")
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err != nil {
		t.Fatalf("second.ReadMessage() error = %v", err)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	registry := NewRegistry(nil, logger.Nop())
	srv := newServer(t, registry)
	userID := uuid.New()

	ws := dial(t, srv, userID)
	waitFor(t, func() bool {
		_, ok := registry.Lookup(userID)
		return ok
	})

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	waitFor(t, func() bool {
		_, ok := registry.Lookup(userID)
		return !ok
	})
	if registry.Deliver(userID, domain.EventNewMessage, nil) {
		t.Fatalf("Deliver() after disconnect = true")
	}
}

func TestFullSendBufferDropsConnection(t *testing.T) {
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	cfg := testRealtimeConfig()
	cfg.SendBuffer = 1
	conn := NewConn(uuid.New(), <-accepted, NewRegistry(nil, logger.Nop()), cfg, logger.Nop())

	if !conn.Send([]byte("one")) {
		t.Fatalf("first Send() = false")
	}
	if conn.Send([]byte("two")) {
		t.Fatalf("Send() on full buffer = true")
	}
	select {
	case <-conn.Done():
	default:
		t.Fatalf("connection not closed after overflow")
	}
	if conn.Send([]byte("three")) {
		t.Fatalf("Send() after close = true")
	}
}
