package chatclient

import (
	"context"
	"errors"
	"sort"
	"sync"

	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

type Option func(*Store)

// WithErrorReporter receives every failed call so a UI can show a notice.
func WithErrorReporter(fn func(error)) Option {
	return func(s *Store) {
		s.reportError = fn
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Store is the local view of the signed-in user's conversations. It merges
// call results and push events. Nothing is applied before the server
// confirms it.
type Store struct {
	api         API
	self        uuid.UUID
	reportError func(error)
	log         logger.Logger

	mu         sync.Mutex
	selected   uuid.UUID
	generation uint64
	loading    bool
	pending    []domain.PushEvent
	messages   []*domain.Message
	unread     map[uuid.UUID]bool
	contacts   []*domain.Contact
	online     map[uuid.UUID]bool

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int
}

func NewStore(api API, self uuid.UUID, opts ...Option) *Store {
	s := &Store{
		api:       api,
		self:      self,
		log:       logger.Nop(),
		unread:    make(map[uuid.UUID]bool),
		online:    make(map[uuid.UUID]bool),
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach feeds push events from source into the store.
func (s *Store) Attach(source EventSource) (cancel func()) {
	return source.Subscribe(s.HandleEvent)
}

// OnChange registers fn to run after every state change.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// OpenConversation selects counterpartID and loads its messages. A response
// that arrives after another conversation was opened is dropped.
func (s *Store) OpenConversation(ctx context.Context, counterpartID uuid.UUID) error {
	s.mu.Lock()
	s.selected = counterpartID
	s.messages = nil
	delete(s.unread, counterpartID)
	gen := s.beginLoadLocked()
	s.mu.Unlock()
	s.notify()

	return s.load(ctx, counterpartID, gen)
}

// Resync refetches the open conversation and the contact list. Call it after
// the live connection comes back.
func (s *Store) Resync(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	counterpartID := s.selected
	var gen uint64
	if counterpartID != uuid.Nil {
		gen = s.beginLoadLocked()
	}
	s.mu.Unlock()

	if counterpartID != uuid.Nil {
		if err := s.load(ctx, counterpartID, gen); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.LoadContacts(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Store) beginLoadLocked() uint64 {
	s.generation++
	s.loading = true
	s.pending = nil
	return s.generation
}

func (s *Store) load(ctx context.Context, counterpartID uuid.UUID, gen uint64) error {
	messages, err := s.api.Conversation(ctx, counterpartID)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.log.Debug("Discarding stale conversation", "counterpart_id", counterpartID)
		return nil
	}
	s.loading = false
	pending := s.pending
	s.pending = nil
	if err != nil {
		// Keep what arrived meanwhile on top of the previous view.
		for _, event := range pending {
			s.applyLocked(event)
		}
		s.mu.Unlock()
		if len(pending) > 0 {
			s.notify()
		}
		return s.fail(err)
	}

	s.messages = make([]*domain.Message, 0, len(messages))
	for _, m := range messages {
		s.insertLocked(m)
	}
	for _, event := range pending {
		s.applyLocked(event)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) Send(ctx context.Context, receiverID uuid.UUID, req SendRequest) (*domain.Message, error) {
	message, err := s.api.Send(ctx, receiverID, req)
	if err != nil {
		return nil, s.fail(err)
	}
	s.applyOwn(domain.EventNewMessage, message)
	return message, nil
}

func (s *Store) Forward(ctx context.Context, messageID, receiverID uuid.UUID) (*domain.Message, error) {
	message, err := s.api.Forward(ctx, messageID, receiverID)
	if err != nil {
		return nil, s.fail(err)
	}
	s.applyOwn(domain.EventNewMessage, message)
	return message, nil
}

func (s *Store) Edit(ctx context.Context, messageID uuid.UUID, text string) (*domain.Message, error) {
	message, err := s.api.Edit(ctx, messageID, text)
	if err != nil {
		return nil, s.fail(err)
	}
	s.applyOwn(domain.EventMessageEdited, message)
	return message, nil
}

func (s *Store) MarkRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.api.MarkRead(ctx, messageID)
	if err != nil {
		return nil, s.fail(err)
	}
	s.applyOwn(domain.EventMessageEdited, message)
	return message, nil
}

func (s *Store) Delete(ctx context.Context, messageID uuid.UUID) error {
	if err := s.api.Delete(ctx, messageID); err != nil {
		return s.fail(err)
	}

	s.applyOwn(domain.EventMessageDeleted, messageID.String())
	return nil
}

// MarkConversationRead marks every unread message addressed to the local
// user in the open conversation. It keeps going past failures.
func (s *Store) MarkConversationRead(ctx context.Context) error {
	s.mu.Lock()
	var ids []uuid.UUID
	for _, m := range s.messages {
		if m.ReceiverID == s.self && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := s.MarkRead(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadContacts refreshes the sidebar and online roster. Unread flags are
// only ever added here.
func (s *Store) LoadContacts(ctx context.Context) error {
	contacts, err := s.api.Contacts(ctx)
	if err != nil {
		return s.fail(err)
	}
	online, err := s.api.Online(ctx)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.contacts = contacts
	s.online = make(map[uuid.UUID]bool, len(online))
	for _, id := range online {
		s.online[id] = true
	}
	for _, c := range contacts {
		if c.UnreadCount > 0 && c.ID != s.selected {
			s.unread[c.ID] = true
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// HandleEvent merges one push event.
func (s *Store) HandleEvent(event domain.PushEvent) {
	s.mu.Lock()
	changed := s.applyLocked(event)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) applyLocked(event domain.PushEvent) bool {
	switch event.Event {
	case domain.EventNewMessage:
		message, err := event.Message()
		if err != nil {
			s.log.Warn("Dropping push event", "error", err)
			return false
		}
		if s.loading && s.inOpenConversation(message) {
			s.pending = append(s.pending, event)
			return false
		}
		changed := s.touchContactLocked(message)
		if s.inOpenConversation(message) {
			return s.insertLocked(message) || changed
		}
		if message.SenderID != s.self && !s.unread[message.SenderID] {
			s.unread[message.SenderID] = true
			changed = true
		}
		return changed

	case domain.EventMessageEdited:
		message, err := event.Message()
		if err != nil {
			s.log.Warn("Dropping push event", "error", err)
			return false
		}
		if !s.inOpenConversation(message) {
			return false
		}
		if s.loading {
			s.pending = append(s.pending, event)
			return false
		}
		return s.replaceLocked(message)

	case domain.EventMessageDeleted:
		id, err := event.MessageID()
		if err != nil {
			s.log.Warn("Dropping push event", "error", err)
			return false
		}
		// The payload is only an id, so every delete is held during a load.
		if s.loading {
			s.pending = append(s.pending, event)
			return false
		}
		return s.removeLocked(id)

	default:
		s.log.Debug("Ignoring unknown push event", "event", event.Event)
		return false
	}
}

// applyOwn merges the result of the user's own call through the push event
// path, so a fetch in flight replays it over its response.
func (s *Store) applyOwn(name string, payload interface{}) {
	event, err := domain.NewPushEvent(name, payload)
	if err != nil {
		s.log.Warn("Failed to encode call result", "error", err, "event", name)
		return
	}
	s.HandleEvent(event)
}

func (s *Store) inOpenConversation(m *domain.Message) bool {
	return s.selected != uuid.Nil && m.BelongsTo(s.self, s.selected)
}

// insertLocked places m by createdAt. Known ids are skipped.
func (s *Store) insertLocked(m *domain.Message) bool {
	if s.indexLocked(m.ID) >= 0 {
		return false
	}
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(m.CreatedAt)
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	return true
}

func (s *Store) replaceLocked(m *domain.Message) bool {
	i := s.indexLocked(m.ID)
	if i < 0 {
		return false
	}
	s.messages[i] = m
	return true
}

func (s *Store) removeLocked(id uuid.UUID) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

func (s *Store) indexLocked(id uuid.UUID) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// touchContactLocked moves the counterpart's lastMessage forward.
func (s *Store) touchContactLocked(m *domain.Message) bool {
	counterpartID := m.Counterpart(s.self)
	for _, c := range s.contacts {
		if c.ID != counterpartID {
			continue
		}
		if c.LastMessage != nil && !m.CreatedAt.After(c.LastMessage.CreatedAt) {
			return false
		}
		c.LastMessage = &domain.MessagePreview{ID: m.ID, CreatedAt: m.CreatedAt}
		return true
	}
	return false
}

func (s *Store) fail(err error) error {
	if s.reportError != nil {
		s.reportError(err)
	}
	return err
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Messages returns a copy of the open conversation in createdAt order.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// Selected returns the open counterpart, if any.
func (s *Store) Selected() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != uuid.Nil
}

func (s *Store) Unread(counterpartID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[counterpartID]
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Conversations returns the sidebar in display order.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.contacts))
	for _, c := range s.contacts {
		contact := *c
		out = append(out, Conversation{
			Contact: contact,
			Unread:  s.unread[c.ID],
			Online:  s.online[c.ID],
		})
	}
	s.mu.Unlock()

	SortContacts(out)
	return out
}
