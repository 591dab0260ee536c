package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
)

type sqliteMessageRepository struct {
	db  *sql.DB
	log logger.Logger
}

func NewSQLiteMessageRepository(db *sql.DB, log logger.Logger) MessageRepository {
	return &sqliteMessageRepository{db: db, log: log}
}

func (r *sqliteMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if err := validateNewMessage(message); err != nil {
		return err
	}
	now := time.Now().UTC()
	message.ID = uuid.New()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, voice_note, reply_to,
			is_read, is_edited, is_forwarded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SenderID, message.ReceiverID, message.Text, message.Image,
		message.VoiceNote, message.ReplyTo, message.IsRead, message.IsEdited, message.IsForwarded,
		toUnixNano(now), toUnixNano(now),
	)
	if err != nil {
		r.log.Error("Failed to create message", "error", err)
		return err
	}

	message.CreatedAt = now
	message.UpdatedAt = now
	return nil
}

func (r *sqliteMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	message, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, err
	}
	return message, nil
}

func (r *sqliteMessageRepository) ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, rowid ASC`,
		userA, userB, userB, userA,
	)
	if err != nil {
		r.log.Error("Failed to list conversation", "error", err)
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		message, err := scanSQLiteMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (r *sqliteMessageRepository) Update(ctx context.Context, id uuid.UUID, patch domain.MessagePatch) (*domain.Message, error) {
	if patch.Empty() {
		return r.GetByID(ctx, id)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE messages
		SET text = COALESCE(?, text),
		    is_read = COALESCE(?, is_read),
		    is_edited = COALESCE(?, is_edited),
		    updated_at = ?
		WHERE id = ?
		RETURNING `+messageColumns,
		patch.Text, patch.IsRead, patch.IsEdited, toUnixNano(time.Now()), id,
	)
	message, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return nil, err
	}
	return message, nil
}

func (r *sqliteMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

func (r *sqliteMessageRepository) CountUnread(ctx context.Context, receiverID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		GROUP BY sender_id`,
		receiverID,
	)
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

func scanSQLiteMessage(row rowScanner) (*domain.Message, error) {
	message := &domain.Message{}
	var createdAt, updatedAt int64
	err := row.Scan(
		&message.ID, &message.SenderID, &message.ReceiverID, &message.Text, &message.Image,
		&message.VoiceNote, &message.ReplyTo, &message.IsRead, &message.IsEdited, &message.IsForwarded,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	message.CreatedAt = fromUnixNano(createdAt)
	message.UpdatedAt = fromUnixNano(updatedAt)
	return message, nil
}
