package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID          int64                  `json:"id"`
	EventTime   time.Time              `json:"eventTime"`
	ActorUserID *uuid.UUID             `json:"actorUserId,omitempty"`
	EventType   string                 `json:"eventType"`
	Payload     map[string]interface{} `json:"payload"`
}

const (
	AuditMessageSent      = "MESSAGE_SENT"
	AuditMessageEdited    = "MESSAGE_EDITED"
	AuditMessageDeleted   = "MESSAGE_DELETED"
	AuditMessageForwarded = "MESSAGE_FORWARDED"
	AuditMessageRead      = "MESSAGE_READ"
	AuditUserRegistered   = "USER_REGISTERED"
)
