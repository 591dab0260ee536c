package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type sqliteUserRepository struct {
	db  *sql.DB
	log logger.Logger
}

func NewSQLiteUserRepository(db *sql.DB, log logger.Logger) UserRepository {
	return &sqliteUserRepository{db: db, log: log}
}

func (r *sqliteUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, profile_pic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.ProfilePic, toUnixNano(now), toUnixNano(now),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			r.log.Warn("User already exists (unique violation)", "email", user.Email)
			return apperrors.ErrUserAlreadyExists
		}
		r.log.Error("Failed to create user", "error", err, "email", user.Email)
		return err
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *sqliteUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, full_name, profile_pic, last_message_id, created_at, updated_at
		FROM users WHERE id = ?`, id)
}

func (r *sqliteUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, full_name, profile_pic, last_message_id, created_at, updated_at
		FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *sqliteUserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	user := &domain.User{}
	var createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.ProfilePic,
		&user.LastMessageID, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user", "error", err)
		return nil, err
	}
	user.CreatedAt = fromUnixNano(createdAt)
	user.UpdatedAt = fromUnixNano(updatedAt)
	return user, nil
}

func (r *sqliteUserRepository) Update(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET full_name = ?, profile_pic = ?, updated_at = ? WHERE id = ?`,
		user.FullName, user.ProfilePic, toUnixNano(now), user.ID,
	)
	if err != nil {
		r.log.Error("Failed to update user", "error", err, "user_id", user.ID)
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrUserNotFound
	}
	user.UpdatedAt = now
	return nil
}

func (r *sqliteUserRepository) ListContacts(ctx context.Context, excludeID uuid.UUID) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.profile_pic, m.id, m.created_at
		FROM users u
		LEFT JOIN messages m ON m.id = u.last_message_id
		WHERE u.id <> ?
		ORDER BY u.full_name ASC, u.id ASC`,
		excludeID,
	)
	if err != nil {
		r.log.Error("Failed to list contacts", "error", err)
		return nil, err
	}
	defer rows.Close()

	contacts := make([]*domain.Contact, 0)
	for rows.Next() {
		contact := &domain.Contact{}
		var lastID *uuid.UUID
		var lastAt sql.NullInt64
		if err := rows.Scan(&contact.ID, &contact.Email, &contact.FullName, &contact.ProfilePic, &lastID, &lastAt); err != nil {
			r.log.Error("Failed to scan contact", "error", err)
			return nil, err
		}
		if lastID != nil && lastAt.Valid {
			contact.LastMessage = &domain.MessagePreview{ID: *lastID, CreatedAt: fromUnixNano(lastAt.Int64)}
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

func (r *sqliteUserRepository) SetLastMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET last_message_id = ? WHERE id = ?`, messageID, userID)
	if err != nil {
		r.log.Error("Failed to set last message", "error", err, "user_id", userID)
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

type sqliteAuditRepository struct {
	db  *sql.DB
	log logger.Logger
}

func NewSQLiteAuditRepository(db *sql.DB, log logger.Logger) AuditRepository {
	return &sqliteAuditRepository{db: db, log: log}
}

func (r *sqliteAuditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	if auditLog.EventTime.IsZero() {
		auditLog.EventTime = time.Now().UTC()
	}
	payload, err := json.Marshal(auditLog.Payload)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_time, actor_user_id, event_type, payload)
		VALUES (?, ?, ?, ?)`,
		toUnixNano(auditLog.EventTime), auditLog.ActorUserID, auditLog.EventType, string(payload),
	)
	if err != nil {
		r.log.Error("Failed to create audit log", "error", err)
		return err
	}
	auditLog.ID, _ = result.LastInsertId()
	return nil
}
