package chatclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"

	"github.com/google/uuid"
)

// fakeAPI serves canned conversations. A counterpart listed in gates blocks
// until its channel is closed.
type fakeAPI struct {
	mu            sync.Mutex
	conversations map[uuid.UUID][]*domain.Message
	gates         map[uuid.UUID]chan struct{}
	contacts      []*domain.Contact
	online        []uuid.UUID
	err           error
	sent          []*domain.Message
	readCalls     []uuid.UUID
	self          uuid.UUID
}

func newFakeAPI(self uuid.UUID) *fakeAPI {
	return &fakeAPI{
		self:          self,
		conversations: make(map[uuid.UUID][]*domain.Message),
		gates:         make(map[uuid.UUID]chan struct{}),
	}
}

func (f *fakeAPI) Contacts(context.Context) ([]*domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*domain.Contact, len(f.contacts))
	for i, c := range f.contacts {
		copied := *c
		out[i] = &copied
	}
	return out, nil
}

func (f *fakeAPI) Online(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, nil
}

func (f *fakeAPI) Conversation(_ context.Context, counterpartID uuid.UUID) ([]*domain.Message, error) {
	f.mu.Lock()
	gate := f.gates[counterpartID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.Message
	for _, m := range f.conversations[counterpartID] {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeAPI) Send(_ context.Context, receiverID uuid.UUID, req SendRequest) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := &domain.Message{
		ID:         uuid.New(),
		SenderID:   f.self,
		ReceiverID: receiverID,
		Text:       req.Text,
		CreatedAt:  time.Now().UTC(),
	}
	f.sent = append(f.sent, m)
	return m, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, messageID uuid.UUID) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.readCalls = append(f.readCalls, messageID)
	for _, msgs := range f.conversations {
		for _, m := range msgs {
			if m.ID == messageID {
				read := *m
				read.IsRead = true
				return &read, nil
			}
		}
	}
	return nil, apperrors.ErrMessageNotFound
}

func (f *fakeAPI) Edit(_ context.Context, messageID uuid.UUID, text string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, msgs := range f.conversations {
		for _, m := range msgs {
			if m.ID == messageID {
				edited := *m
				edited.Text = &text
				edited.IsEdited = true
				return &edited, nil
			}
		}
	}
	return nil, apperrors.ErrMessageNotFound
}

func (f *fakeAPI) Delete(_ context.Context, messageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeAPI) Forward(_ context.Context, messageID, receiverID uuid.UUID) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Message{
		ID:          uuid.New(),
		SenderID:    f.self,
		ReceiverID:  receiverID,
		IsForwarded: true,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (f *fakeAPI) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func msg(from, to uuid.UUID, text string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:         uuid.New(),
		SenderID:   from,
		ReceiverID: to,
		Text:       domain.StringPtr(text),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func pushEvent(t *testing.T, name string, payload interface{}) domain.PushEvent {
	t.Helper()
	event, err := domain.NewPushEvent(name, payload)
	if err != nil {
		t.Fatalf("NewPushEvent() error = %v", err)
	}
	return event
}

func messageIDs(messages []domain.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

func TestOpenConversationClearsUnread(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	api.conversations[bob] = []*domain.Message{msg(bob, self, "hi", now)}
	store := NewStore(api, self)

	store.HandleEvent(pushEvent(t, domain.EventNewMessage, msg(bob, self, "ping", now)))
	if !store.Unread(bob) {
		t.Fatal("new message from closed conversation should set unread")
	}

	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	if store.Unread(bob) {
		t.Fatal("opening the conversation should clear unread")
	}
	if got := len(store.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
}

func TestNewMessageDedupe(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	fetched := msg(bob, self, "hi", now)
	api.conversations[bob] = []*domain.Message{fetched}
	store := NewStore(api, self)

	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	fresh := msg(bob, self, "again", now.Add(time.Second))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, fresh))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, fresh))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, fetched))

	got := messageIDs(store.Messages())
	if len(got) != 2 || got[0] != fetched.ID || got[1] != fresh.ID {
		t.Fatalf("messages = %v, want [%s %s]", got, fetched.ID, fresh.ID)
	}
	if store.Unread(bob) {
		t.Fatal("messages in the open conversation must not set unread")
	}
}

func TestNewMessageInsertedByCreatedAt(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	first := msg(bob, self, "one", now)
	third := msg(bob, self, "three", now.Add(2*time.Second))
	api.conversations[bob] = []*domain.Message{first, third}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	second := msg(self, bob, "two", now.Add(time.Second))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, second))

	got := messageIDs(store.Messages())
	want := []uuid.UUID{first.ID, second.ID, third.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("messages = %v, want %v", got, want)
		}
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	self, a, b := uuid.New(), uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	api.conversations[a] = []*domain.Message{msg(a, self, "from a", now)}
	fromB := msg(b, self, "from b", now)
	api.conversations[b] = []*domain.Message{fromB}
	gate := make(chan struct{})
	api.gates[a] = gate
	store := NewStore(api, self)

	done := make(chan error, 1)
	go func() {
		done <- store.OpenConversation(context.Background(), a)
	}()

	// Wait for the fetch of a to be in flight.
	deadline := time.Now().Add(2 * time.Second)
	for !store.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("fetch for a never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := store.OpenConversation(context.Background(), b); err != nil {
		t.Fatalf("OpenConversation(b) error = %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("OpenConversation(a) error = %v", err)
	}

	got := store.Messages()
	if len(got) != 1 || got[0].ID != fromB.ID {
		t.Fatalf("messages = %v, want only b's message", messageIDs(got))
	}
	if selected, _ := store.Selected(); selected != b {
		t.Fatalf("selected = %s, want %s", selected, b)
	}
}

func TestEventsDuringFetchAreReplayed(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	fetched := msg(bob, self, "hi", now)
	api.conversations[bob] = []*domain.Message{fetched}
	gate := make(chan struct{})
	api.gates[bob] = gate
	store := NewStore(api, self)

	done := make(chan error, 1)
	go func() {
		done <- store.OpenConversation(context.Background(), bob)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !store.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	late := msg(bob, self, "late", now.Add(time.Second))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, late))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, fetched))
	edited := *fetched
	edited.Text = domain.StringPtr("hi, edited")
	edited.IsEdited = true
	store.HandleEvent(pushEvent(t, domain.EventMessageEdited, &edited))

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	got := store.Messages()
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].Text == nil || *got[0].Text != "hi, edited" {
		t.Fatalf("first message text = %v, want edited text", got[0].Text)
	}
	if got[1].ID != late.ID {
		t.Fatalf("second message = %s, want %s", got[1].ID, late.ID)
	}
}

func TestEditAndDeleteEvents(t *testing.T) {
	self, bob, carol := uuid.New(), uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	m := msg(bob, self, "hi", now)
	api.conversations[bob] = []*domain.Message{m}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	other := msg(carol, self, "elsewhere", now)
	store.HandleEvent(pushEvent(t, domain.EventMessageEdited, other))
	store.HandleEvent(pushEvent(t, domain.EventMessageDeleted, other.ID.String()))
	if store.Unread(carol) {
		t.Fatal("edits and deletes must never set unread")
	}

	edited := *m
	edited.Text = domain.StringPtr("hi there")
	edited.IsEdited = true
	store.HandleEvent(pushEvent(t, domain.EventMessageEdited, &edited))
	got := store.Messages()
	if len(got) != 1 || !got[0].IsEdited || *got[0].Text != "hi there" {
		t.Fatalf("messages after edit = %+v", got)
	}

	store.HandleEvent(pushEvent(t, domain.EventMessageDeleted, m.ID.String()))
	if got := store.Messages(); len(got) != 0 {
		t.Fatalf("messages after delete = %d, want 0", len(got))
	}
}

func TestSendAppliesOwnResponse(t *testing.T) {
	self, bob, carol := uuid.New(), uuid.New(), uuid.New()
	api := newFakeAPI(self)
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	sent, err := store.Send(context.Background(), bob, SendRequest{Text: domain.StringPtr("hello")})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := store.Messages(); len(got) != 1 || got[0].ID != sent.ID {
		t.Fatalf("messages = %v, want the sent message", messageIDs(got))
	}

	// The echo of our own send must not duplicate it.
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, sent))
	if got := len(store.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}

	if _, err := store.Send(context.Background(), carol, SendRequest{Text: domain.StringPtr("other")}); err != nil {
		t.Fatalf("Send(carol) error = %v", err)
	}
	if got := len(store.Messages()); got != 1 {
		t.Fatalf("a send to another counterpart changed the open conversation: %d messages", got)
	}
	if store.Unread(carol) {
		t.Fatal("own send must not set unread")
	}
}

func TestFailedCallLeavesStateAndReports(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	m := msg(self, bob, "mine", time.Now().UTC())
	api.conversations[bob] = []*domain.Message{m}

	var reported []error
	store := NewStore(api, self, WithErrorReporter(func(err error) {
		reported = append(reported, err)
	}))
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	api.setError(apperrors.NewAPIError("forbidden", 403))

	if _, err := store.Edit(context.Background(), m.ID, "changed"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("Edit() error = %v, want forbidden", err)
	}
	if err := store.Delete(context.Background(), m.ID); err == nil {
		t.Fatal("Delete() should fail")
	}
	if _, err := store.Send(context.Background(), bob, SendRequest{Text: domain.StringPtr("x")}); err == nil {
		t.Fatal("Send() should fail")
	}

	got := store.Messages()
	if len(got) != 1 || *got[0].Text != "mine" {
		t.Fatalf("state changed after failures: %+v", got)
	}
	if len(reported) != 3 {
		t.Fatalf("reported %d errors, want 3", len(reported))
	}
}

func TestMarkConversationRead(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	incoming := msg(bob, self, "read me", now)
	outgoing := msg(self, bob, "mine", now.Add(time.Second))
	api.conversations[bob] = []*domain.Message{incoming, outgoing}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	if err := store.MarkConversationRead(context.Background()); err != nil {
		t.Fatalf("MarkConversationRead() error = %v", err)
	}
	if len(api.readCalls) != 1 || api.readCalls[0] != incoming.ID {
		t.Fatalf("read calls = %v, want only the incoming message", api.readCalls)
	}
	if got := store.Messages(); !got[0].IsRead || got[1].IsRead {
		t.Fatalf("read flags = %v/%v, want true/false", got[0].IsRead, got[1].IsRead)
	}
}

func TestLoadContactsAndOrdering(t *testing.T) {
	self := uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	quiet := &domain.Contact{ID: uuid.New(), FullName: "quiet"}
	recent := &domain.Contact{ID: uuid.New(), FullName: "recent", LastMessage: &domain.MessagePreview{ID: uuid.New(), CreatedAt: now}}
	unread := &domain.Contact{ID: uuid.New(), FullName: "unread", UnreadCount: 2}
	online := &domain.Contact{ID: uuid.New(), FullName: "online"}
	api.contacts = []*domain.Contact{quiet, online, unread, recent}
	api.online = []uuid.UUID{online.ID}
	store := NewStore(api, self)

	changes := 0
	cancel := store.OnChange(func() { changes++ })
	defer cancel()

	if err := store.LoadContacts(context.Background()); err != nil {
		t.Fatalf("LoadContacts() error = %v", err)
	}
	if changes == 0 {
		t.Fatal("OnChange listener not called")
	}
	if !store.Unread(unread.ID) {
		t.Fatal("unreadCount > 0 should seed the unread index")
	}

	rows := store.Conversations()
	want := []string{"recent", "unread", "online", "quiet"}
	for i, name := range want {
		if rows[i].Contact.FullName != name {
			t.Fatalf("row %d = %s, want %s", i, rows[i].Contact.FullName, name)
		}
	}

	// A new message moves quiet to the top.
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, msg(quiet.ID, self, "hey", now.Add(time.Minute))))
	rows = store.Conversations()
	if rows[0].Contact.ID != quiet.ID || !rows[0].Unread {
		t.Fatalf("top row = %+v, want quiet and unread", rows[0])
	}
}

func TestResyncRefetchesOpenConversation(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	api.conversations[bob] = []*domain.Message{msg(bob, self, "one", now)}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	api.mu.Lock()
	api.conversations[bob] = append(api.conversations[bob], msg(bob, self, "missed", now.Add(time.Second)))
	api.mu.Unlock()

	if err := store.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if got := len(store.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
}

func waitLoading(t *testing.T, store *Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !store.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendDuringFetchIsKept(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	api.conversations[bob] = []*domain.Message{msg(bob, self, "earlier", time.Now().UTC().Add(-time.Minute))}
	gate := make(chan struct{})
	api.gates[bob] = gate
	store := NewStore(api, self)

	done := make(chan error, 1)
	go func() {
		done <- store.OpenConversation(context.Background(), bob)
	}()
	waitLoading(t, store)

	sent, err := store.Send(context.Background(), bob, SendRequest{Text: domain.StringPtr("hi")})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	got := store.Messages()
	if len(got) != 2 || got[1].ID != sent.ID {
		t.Fatalf("messages = %v, want the fetched message then %s", messageIDs(got), sent.ID)
	}
}

func TestEditAndDeleteDuringResyncAreKept(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	keep := msg(self, bob, "draft", now)
	drop := msg(self, bob, "oops", now.Add(time.Second))
	api.conversations[bob] = []*domain.Message{keep, drop}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	gate := make(chan struct{})
	api.mu.Lock()
	api.gates[bob] = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- store.Resync(context.Background())
	}()
	waitLoading(t, store)

	if _, err := store.Edit(context.Background(), keep.ID, "final"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if err := store.Delete(context.Background(), drop.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	got := store.Messages()
	if len(got) != 1 || got[0].ID != keep.ID {
		t.Fatalf("messages = %v, want only %s", messageIDs(got), keep.ID)
	}
	if got[0].Text == nil || *got[0].Text != "final" || !got[0].IsEdited {
		t.Fatalf("kept message = %+v, want the edit", got[0])
	}
}

func TestFailedFetchKeepsEventsReceivedMeanwhile(t *testing.T) {
	self, bob := uuid.New(), uuid.New()
	api := newFakeAPI(self)
	now := time.Now().UTC()
	api.conversations[bob] = []*domain.Message{msg(bob, self, "one", now)}
	store := NewStore(api, self)
	if err := store.OpenConversation(context.Background(), bob); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	gate := make(chan struct{})
	api.mu.Lock()
	api.gates[bob] = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- store.Resync(context.Background())
	}()
	waitLoading(t, store)

	fresh := msg(bob, self, "fresh", now.Add(time.Second))
	store.HandleEvent(pushEvent(t, domain.EventNewMessage, fresh))
	api.setError(apperrors.NewAPIError("unavailable", 503))
	close(gate)

	if err := <-done; err == nil {
		t.Fatal("Resync() should report the failed fetch")
	}
	if store.Loading() {
		t.Fatal("store still loading after a failed fetch")
	}
	got := store.Messages()
	if len(got) != 2 || got[1].ID != fresh.ID {
		t.Fatalf("messages = %v, want the previous message then %s", messageIDs(got), fresh.ID)
	}
}
