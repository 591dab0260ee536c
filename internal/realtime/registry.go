package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

var ErrRegistryClosed = errors.New("realtime registry closed")

const presenceTimeout = 2 * time.Second

// Peer is one live connection. Send must not block.
type Peer interface {
	Send(data []byte) bool
	Close()
}

// PresenceTracker mirrors registry membership into the shared online roster.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	MarkOffline(ctx context.Context, userID uuid.UUID) error
}

// Registry maps each user to at most one live connection.
type Registry struct {
	mu       sync.RWMutex
	peers    map[uuid.UUID]Peer
	closed   bool
	presence PresenceTracker
	log      logger.Logger
}

// NewRegistry creates an empty registry. presence may be nil.
func NewRegistry(presence PresenceTracker, log logger.Logger) *Registry {
	return &Registry{
		peers:    make(map[uuid.UUID]Peer),
		presence: presence,
		log:      log,
	}
}

// Register makes peer the user's live connection, closing any previous one.
func (r *Registry) Register(userID uuid.UUID, peer Peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	previous := r.peers[userID]
	r.peers[userID] = peer
	count := len(r.peers)
	r.mu.Unlock()

	if previous != nil && previous != peer {
		r.log.Info("Replacing live connection", "user_id", userID)
		previous.Close()
	}

	r.track(userID, true)
	r.log.Info("User connected", "user_id", userID, "online", count)
	return nil
}

// Unregister removes peer only if it is still the user's current connection.
func (r *Registry) Unregister(userID uuid.UUID, peer Peer) bool {
	r.mu.Lock()
	current, ok := r.peers[userID]
	if !ok || current != peer {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, userID)
	r.mu.Unlock()

	r.track(userID, false)
	r.log.Info("User disconnected", "user_id", userID)
	return true
}

func (r *Registry) Lookup(userID uuid.UUID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[userID]
	return peer, ok
}

// Deliver sends one event to the user's live connection. It never blocks and
// never retries; false means nothing was sent.
func (r *Registry) Deliver(userID uuid.UUID, event string, payload interface{}) bool {
	peer, ok := r.Lookup(userID)
	if !ok {
		return false
	}

	data, err := json.Marshal(domain.Envelope{Event: event, Payload: payload})
	if err != nil {
		r.log.Error("Failed to encode event", "error", err, "event", event)
		return false
	}
	return peer.Send(data)
}

func (r *Registry) Online() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close drops every connection and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	peers := r.peers
	r.peers = make(map[uuid.UUID]Peer)
	r.mu.Unlock()

	for userID, peer := range peers {
		peer.Close()
		r.track(userID, false)
	}
	r.log.Info("Realtime registry closed", "dropped", len(peers))
}

func (r *Registry) track(userID uuid.UUID, online bool) {
	if r.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if online {
		err = r.presence.MarkOnline(ctx, userID)
	} else {
		err = r.presence.MarkOffline(ctx, userID)
	}
	if err != nil {
		r.log.Warn("Failed to update presence", "error", err, "user_id", userID, "online", online)
	}
}
