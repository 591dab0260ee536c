package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

type fakePeer struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	full   bool
}

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.full {
		return false
	}
	p.sent = append(p.sent, data)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

type fakePresence struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
	err    error
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[uuid.UUID]bool)}
}

func (f *fakePresence) MarkOnline(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	return f.err
}

func (f *fakePresence) MarkOffline(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
	return f.err
}

func (f *fakePresence) isOnline(userID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func TestRegisterReplacesPreviousPeer(t *testing.T) {
	presence := newFakePresence()
	registry := NewRegistry(presence, logger.Nop())
	userID := uuid.New()
	first, second := &fakePeer{}, &fakePeer{}

	if err := registry.Register(userID, first); err != nil {
		t.Fatalf("Register(first) error = %v", err)
	}
	if !presence.isOnline(userID) {
		t.Fatalf("presence not updated on register")
	}
	if err := registry.Register(userID, second); err != nil {
		t.Fatalf("Register(second) error = %v", err)
	}

	if !first.isClosed() {
		t.Fatalf("previous peer not closed")
	}
	if peer, ok := registry.Lookup(userID); !ok || peer != second {
		t.Fatalf("Lookup() = %v, %v; want second peer", peer, ok)
	}

	if registry.Unregister(userID, first) {
		t.Fatalf("Unregister(stale peer) = true")
	}
	if _, ok := registry.Lookup(userID); !ok {
		t.Fatalf("stale unregister removed the current peer")
	}
	if !presence.isOnline(userID) {
		t.Fatalf("stale unregister marked user offline")
	}

	if !registry.Unregister(userID, second) {
		t.Fatalf("Unregister(current peer) = false")
	}
	if presence.isOnline(userID) {
		t.Fatalf("presence still online after unregister")
	}
}

func TestDeliverEncodesEnvelope(t *testing.T) {
	registry := NewRegistry(nil, logger.Nop())
	userID := uuid.New()
	peer := &fakePeer{}

	if registry.Deliver(userID, domain.EventMessageDeleted, "abc") {
		t.Fatalf("Deliver() to offline user = true")
	}

	if err := registry.Register(userID, peer); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	msgID := uuid.New()
	if !registry.Deliver(userID, domain.EventMessageDeleted, msgID.String()) {
		t.Fatalf("Deliver() = false for connected user")
	}

	frames := peer.frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	var event domain.PushEvent
	if err := json.Unmarshal(frames[0], &event); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	got, err := event.MessageID()
	if err != nil || got != msgID {
		t.Fatalf("MessageID() = %v, %v; want %v", got, err, msgID)
	}

	peer.mu.Lock()
	peer.full = true
	peer.mu.Unlock()
	if registry.Deliver(userID, domain.EventMessageDeleted, msgID.String()) {
		t.Fatalf("Deliver() = true when peer refused")
	}
}

func TestCloseDropsPeersAndRefusesNew(t *testing.T) {
	presence := newFakePresence()
	registry := NewRegistry(presence, logger.Nop())
	a, b := uuid.New(), uuid.New()
	peerA, peerB := &fakePeer{}, &fakePeer{}

	_ = registry.Register(a, peerA)
	_ = registry.Register(b, peerB)
	if got := len(registry.Online()); got != 2 {
		t.Fatalf("Online() = %d users, want 2", got)
	}

	registry.Close()
	registry.Close()

	if !peerA.isClosed() || !peerB.isClosed() {
		t.Fatalf("peers not closed on registry close")
	}
	if presence.isOnline(a) || presence.isOnline(b) {
		t.Fatalf("presence not cleared on close")
	}
	if len(registry.Online()) != 0 {
		t.Fatalf("Online() not empty after close")
	}
	if err := registry.Register(a, &fakePeer{}); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Register() after close error = %v", err)
	}
}

func TestPresenceErrorsDoNotBlockRegistration(t *testing.T) {
	presence := newFakePresence()
	presence.err = errors.New("redis down")
	registry := NewRegistry(presence, logger.Nop())
	userID := uuid.New()

	if err := registry.Register(userID, &fakePeer{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !registry.Deliver(userID, domain.EventNewMessage, map[string]string{"id": "x"}) {
		t.Fatalf("Deliver() = false")
	}
}
