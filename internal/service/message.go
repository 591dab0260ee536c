package service

import (
	"context"
	"errors"
	"strings"

	"directchat/internal/domain"
	"directchat/internal/repository"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

// Notifier pushes a named event to a user's live connection, if any.
// The result is diagnostic only.
type Notifier interface {
	Deliver(userID uuid.UUID, event string, payload interface{}) bool
}

type MessageService interface {
	Send(ctx context.Context, senderID, receiverID uuid.UUID, in SendMessageInput) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, error)
	Edit(ctx context.Context, messageID, editorID uuid.UUID, in EditMessageInput) (*domain.Message, error)
	Delete(ctx context.Context, messageID, requesterID uuid.UUID) error
	Forward(ctx context.Context, messageID, senderID, receiverID uuid.UUID) (*domain.Message, error)
	Conversation(ctx context.Context, callerID, counterpartID uuid.UUID) ([]*domain.Message, error)
	Contacts(ctx context.Context, callerID uuid.UUID) ([]*domain.Contact, error)
	Online(ctx context.Context) ([]uuid.UUID, error)
}

type SendMessageInput struct {
	Text      *string    `json:"text"`
	Image     *string    `json:"image"`
	VoiceNote *string    `json:"voiceNote"`
	ReplyTo   *uuid.UUID `json:"replyTo"`
}

// normalize drops blank fields and requires some content to remain.
func (in SendMessageInput) normalize() (SendMessageInput, error) {
	out := SendMessageInput{
		Text:      blankToNil(in.Text),
		Image:     blankToNil(in.Image),
		VoiceNote: blankToNil(in.VoiceNote),
		ReplyTo:   in.ReplyTo,
	}
	if out.ReplyTo != nil && *out.ReplyTo == uuid.Nil {
		out.ReplyTo = nil
	}
	if out.Text == nil && out.Image == nil && out.VoiceNote == nil {
		return out, apperrors.NewValidationError("text", "message must contain text, image or voiceNote")
	}
	return out, nil
}

type EditMessageInput struct {
	Text string `json:"text"`
}

type messageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	presence repository.PresenceRepository
	audit    AuditService
	notifier Notifier
	log      logger.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	presence repository.PresenceRepository,
	audit AuditService,
	notifier Notifier,
	log logger.Logger,
) MessageService {
	return &messageService{
		messages: messages,
		users:    users,
		presence: presence,
		audit:    audit,
		notifier: notifier,
		log:      log,
	}
}

func (s *messageService) Send(ctx context.Context, senderID, receiverID uuid.UUID, in SendMessageInput) (*domain.Message, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, apperrors.NewValidationError("receiverId", "cannot message yourself")
	}
	if err := s.requireUser(ctx, receiverID); err != nil {
		return nil, err
	}

	if in.ReplyTo != nil {
		parent, err := s.messages.GetByID(ctx, *in.ReplyTo)
		if err != nil {
			return nil, wrapStoreError("get reply target", err)
		}
		if !parent.BelongsTo(senderID, receiverID) {
			return nil, apperrors.ErrMessageNotFound
		}
	}

	message := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       in.Text,
		Image:      in.Image,
		VoiceNote:  in.VoiceNote,
		ReplyTo:    in.ReplyTo,
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, wrapStoreError("create message", err)
	}

	s.touchLastMessage(ctx, message)
	s.push(receiverID, domain.EventNewMessage, message)
	s.audit.LogEvent(ctx, &senderID, domain.AuditMessageSent, map[string]interface{}{
		"message_id":  message.ID.String(),
		"receiver_id": receiverID.String(),
	})

	return message, nil
}

func (s *messageService) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, wrapStoreError("get message", err)
	}

	// Read races are expected; the wrong party gets the message back untouched.
	if message.ReceiverID != readerID || message.IsRead {
		return message, nil
	}

	read := true
	updated, err := s.messages.Update(ctx, messageID, domain.MessagePatch{IsRead: &read})
	if err != nil {
		return nil, wrapStoreError("mark message read", err)
	}

	s.audit.LogEvent(ctx, &readerID, domain.AuditMessageRead, map[string]interface{}{
		"message_id": messageID.String(),
	})
	return updated, nil
}

func (s *messageService) Edit(ctx context.Context, messageID, editorID uuid.UUID, in EditMessageInput) (*domain.Message, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, wrapStoreError("get message", err)
	}
	if message.SenderID != editorID {
		return nil, apperrors.ErrForbidden
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, apperrors.NewValidationError("text", "is required")
	}

	edited := true
	updated, err := s.messages.Update(ctx, messageID, domain.MessagePatch{Text: &text, IsEdited: &edited})
	if err != nil {
		return nil, wrapStoreError("edit message", err)
	}

	s.push(updated.ReceiverID, domain.EventMessageEdited, updated)
	s.audit.LogEvent(ctx, &editorID, domain.AuditMessageEdited, map[string]interface{}{
		"message_id": messageID.String(),
	})
	return updated, nil
}

func (s *messageService) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return wrapStoreError("get message", err)
	}
	if message.SenderID != requesterID {
		return apperrors.ErrForbidden
	}

	if err := s.messages.Delete(ctx, messageID); err != nil {
		return wrapStoreError("delete message", err)
	}

	s.push(message.ReceiverID, domain.EventMessageDeleted, messageID.String())
	s.audit.LogEvent(ctx, &requesterID, domain.AuditMessageDeleted, map[string]interface{}{
		"message_id": messageID.String(),
	})
	return nil
}

func (s *messageService) Forward(ctx context.Context, messageID, senderID, receiverID uuid.UUID) (*domain.Message, error) {
	original, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, wrapStoreError("get message", err)
	}
	// Only a participant may see the original.
	if !original.Involves(senderID) {
		return nil, apperrors.ErrMessageNotFound
	}
	if senderID == receiverID {
		return nil, apperrors.NewValidationError("receiverId", "cannot message yourself")
	}
	if err := s.requireUser(ctx, receiverID); err != nil {
		return nil, err
	}

	copied := &domain.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Text:        original.Text,
		Image:       original.Image,
		VoiceNote:   original.VoiceNote,
		IsForwarded: true,
	}
	if err := s.messages.Create(ctx, copied); err != nil {
		return nil, wrapStoreError("create forwarded message", err)
	}

	s.touchLastMessage(ctx, copied)
	s.push(receiverID, domain.EventNewMessage, copied)
	s.audit.LogEvent(ctx, &senderID, domain.AuditMessageForwarded, map[string]interface{}{
		"message_id":  copied.ID.String(),
		"original_id": messageID.String(),
		"receiver_id": receiverID.String(),
	})
	return copied, nil
}

func (s *messageService) Conversation(ctx context.Context, callerID, counterpartID uuid.UUID) ([]*domain.Message, error) {
	if err := s.requireUser(ctx, counterpartID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListBetween(ctx, callerID, counterpartID)
	if err != nil {
		return nil, wrapStoreError("list conversation", err)
	}
	return messages, nil
}

func (s *messageService) Contacts(ctx context.Context, callerID uuid.UUID) ([]*domain.Contact, error) {
	contacts, err := s.users.ListContacts(ctx, callerID)
	if err != nil {
		return nil, wrapStoreError("list contacts", err)
	}
	unread, err := s.messages.CountUnread(ctx, callerID)
	if err != nil {
		return nil, wrapStoreError("count unread", err)
	}
	for _, c := range contacts {
		c.UnreadCount = unread[c.ID]
	}
	return contacts, nil
}

func (s *messageService) Online(ctx context.Context) ([]uuid.UUID, error) {
	online, err := s.presence.ListOnline(ctx)
	if err != nil {
		return nil, apperrors.Persistence("list online users", err)
	}
	return online, nil
}

func (s *messageService) requireUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return wrapStoreError("get user", err)
	}
	return nil
}

// touchLastMessage updates both participants' ordering hint as two
// independent writes. A failure leaves the hint stale and is only logged.
func (s *messageService) touchLastMessage(ctx context.Context, message *domain.Message) {
	for _, userID := range []uuid.UUID{message.SenderID, message.ReceiverID} {
		if err := s.users.SetLastMessage(ctx, userID, message.ID); err != nil {
			s.log.Warn("Failed to update last message", "error", err, "user_id", userID, "message_id", message.ID)
		}
	}
}

func (s *messageService) push(userID uuid.UUID, event string, payload interface{}) {
	if !s.notifier.Deliver(userID, event, payload) {
		s.log.Debug("Push skipped, no live connection", "user_id", userID, "event", event, "error", apperrors.ErrDeliveryUnavailable)
	}
}

// wrapStoreError passes domain errors through and marks anything else as a
// persistence failure.
func wrapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrForbidden),
		errors.Is(err, apperrors.ErrPersistence):
		return err
	}
	return apperrors.Persistence(op, err)
}
