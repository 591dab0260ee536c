package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FullName      string     `json:"fullName"`
	ProfilePic    *string    `json:"profilePic,omitempty"`
	LastMessageID *uuid.UUID `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Contact is a counterpart as listed in the conversation sidebar.
type Contact struct {
	ID          uuid.UUID       `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"fullName"`
	ProfilePic  *string         `json:"profilePic,omitempty"`
	LastMessage *MessagePreview `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount"`
}

// LastMessageAt is the zero time when the contact has never exchanged a message.
func (c Contact) LastMessageAt() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.CreatedAt
}
