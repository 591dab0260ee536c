package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one direct message between exactly two users. Only the sender
// may edit or delete it; only the receiver may mark it read.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    uuid.UUID  `json:"senderId"`
	ReceiverID  uuid.UUID  `json:"receiverId"`
	Text        *string    `json:"text,omitempty"`
	Image       *string    `json:"image,omitempty"`
	VoiceNote   *string    `json:"voiceNote,omitempty"`
	ReplyTo     *uuid.UUID `json:"replyTo,omitempty"`
	IsRead      bool       `json:"isRead"`
	IsEdited    bool       `json:"isEdited"`
	IsForwarded bool       `json:"isForwarded"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// MessagePatch lists the only fields that may change after creation.
type MessagePatch struct {
	Text     *string
	IsRead   *bool
	IsEdited *bool
}

func (p MessagePatch) Empty() bool {
	return p.Text == nil && p.IsRead == nil && p.IsEdited == nil
}

func (m *Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// BelongsTo reports whether the message is part of the conversation between a and b.
func (m *Message) BelongsTo(a, b uuid.UUID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterpart returns the other participant relative to userID.
func (m *Message) Counterpart(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// MessagePreview is the denormalized lastMessage pointer resolved for ordering.
type MessagePreview struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func StringPtr(s string) *string {
	return &s
}
