package repository

import (
	"context"
	"errors"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository is durable keyed storage of messages. It enforces no
// business rules: callers authorize mutations before calling Update or Delete.
type MessageRepository interface {
	// Create assigns the id and timestamps.
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListBetween returns the conversation of a and b in creation order.
	ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]*domain.Message, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.MessagePatch) (*domain.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// CountUnread returns unread counts addressed to receiverID, keyed by sender.
	CountUnread(ctx context.Context, receiverID uuid.UUID) (map[uuid.UUID]int, error)
}

const messageColumns = `id, sender_id, receiver_id, text, image, voice_note, reply_to,
	is_read, is_edited, is_forwarded, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func validateNewMessage(message *domain.Message) error {
	if message.SenderID == uuid.Nil {
		return apperrors.NewValidationError("senderId", "is required")
	}
	if message.ReceiverID == uuid.Nil {
		return apperrors.NewValidationError("receiverId", "is required")
	}
	return nil
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if err := validateNewMessage(message); err != nil {
		return err
	}
	message.ID = uuid.New()

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, voice_note, reply_to, is_read, is_edited, is_forwarded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		message.ID, message.SenderID, message.ReceiverID, message.Text, message.Image,
		message.VoiceNote, message.ReplyTo, message.IsRead, message.IsEdited, message.IsForwarded,
	).Scan(&message.CreatedAt, &message.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err)
		return err
	}

	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, err
	}

	return message, nil
}

func (r *messageRepository) ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, userA, userB)
	if err != nil {
		r.log.Error("Failed to list conversation", "error", err)
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func (r *messageRepository) Update(ctx context.Context, id uuid.UUID, patch domain.MessagePatch) (*domain.Message, error) {
	if patch.Empty() {
		return r.GetByID(ctx, id)
	}

	query := `
		UPDATE messages
		SET text = COALESCE($2, text),
		    is_read = COALESCE($3, is_read),
		    is_edited = COALESCE($4, is_edited),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + messageColumns

	message, err := scanMessage(r.db.QueryRow(ctx, query, id, patch.Text, patch.IsRead, patch.IsEdited))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return nil, err
	}

	return message, nil
}

func (r *messageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) CountUnread(ctx context.Context, receiverID uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND is_read = false
		GROUP BY sender_id
	`

	rows, err := r.db.Query(ctx, query, receiverID)
	if err != nil {
		r.log.Error("Failed to count unread messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var senderID uuid.UUID
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, err
		}
		counts[senderID] = count
	}

	return counts, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	message := &domain.Message{}
	err := row.Scan(
		&message.ID, &message.SenderID, &message.ReceiverID, &message.Text, &message.Image,
		&message.VoiceNote, &message.ReplyTo, &message.IsRead, &message.IsEdited, &message.IsForwarded,
		&message.CreatedAt, &message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	message.CreatedAt = message.CreatedAt.UTC()
	message.UpdatedAt = message.UpdatedAt.UTC()
	return message, nil
}
