package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	// ListContacts returns every user except excludeID with the lastMessage pointer resolved.
	ListContacts(ctx context.Context, excludeID uuid.UUID) ([]*domain.Contact, error)
	SetLastMessage(ctx context.Context, userID, messageID uuid.UUID) error
}

const uniqueViolation = "23505"

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, full_name, profile_pic)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.ProfilePic,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.log.Warn("User already exists (unique violation)", "email", user.Email, "constraint", pgErr.ConstraintName)
			return apperrors.ErrUserAlreadyExists
		}
		r.log.Error("Failed to create user", "error", err, "email", user.Email)
		return err
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, full_name, profile_pic, last_message_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return r.getOne(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, full_name, profile_pic, last_message_id, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	return r.getOne(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.ProfilePic,
		&user.LastMessageID, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user", "error", err)
		return nil, err
	}
	return user, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET full_name = $2, profile_pic = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, user.ID, user.FullName, user.ProfilePic).Scan(&user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to update user", "error", err, "user_id", user.ID)
		return err
	}
	return nil
}

func (r *userRepository) ListContacts(ctx context.Context, excludeID uuid.UUID) ([]*domain.Contact, error) {
	query := `
		SELECT u.id, u.email, u.full_name, u.profile_pic, m.id, m.created_at
		FROM users u
		LEFT JOIN messages m ON m.id = u.last_message_id
		WHERE u.id <> $1
		ORDER BY u.full_name ASC, u.id ASC
	`

	rows, err := r.db.Query(ctx, query, excludeID)
	if err != nil {
		r.log.Error("Failed to list contacts", "error", err)
		return nil, err
	}
	defer rows.Close()

	contacts := make([]*domain.Contact, 0)
	for rows.Next() {
		contact := &domain.Contact{}
		var lastID *uuid.UUID
		var lastAt *time.Time
		if err := rows.Scan(&contact.ID, &contact.Email, &contact.FullName, &contact.ProfilePic, &lastID, &lastAt); err != nil {
			r.log.Error("Failed to scan contact", "error", err)
			return nil, err
		}
		if lastID != nil && lastAt != nil {
			contact.LastMessage = &domain.MessagePreview{ID: *lastID, CreatedAt: lastAt.UTC()}
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

func (r *userRepository) SetLastMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET last_message_id = $2 WHERE id = $1`, userID, messageID)
	if err != nil {
		r.log.Error("Failed to set last message", "error", err, "user_id", userID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}
