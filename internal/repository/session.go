package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"directchat/internal/domain"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "session:%s"
	userSessionKeyPrefix = "user:%s:sessions"
)

// SessionRepository stores refresh sessions keyed by the hash of the token,
// so a leaked store never exposes usable tokens.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session, refreshToken string) error
	Get(ctx context.Context, refreshToken string) (*domain.Session, error)
	Delete(ctx context.Context, refreshToken string) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
}

type sessionRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewSessionRepository(rdb *redis.Client, log logger.Logger) SessionRepository {
	return &sessionRepository{rdb: rdb, log: log}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *sessionRepository) sessionKey(refreshToken string) string {
	return fmt.Sprintf(sessionKeyPrefix, HashToken(refreshToken))
}

func (r *sessionRepository) userKey(userID uuid.UUID) string {
	return fmt.Sprintf(userSessionKeyPrefix, userID.String())
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session, refreshToken string) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return apperrors.ErrTokenExpired
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := r.sessionKey(refreshToken)
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, r.userKey(session.UserID), key)
	pipe.Expire(ctx, r.userKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to create session", "error", err, "user_id", session.UserID)
		return err
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, refreshToken string) (*domain.Session, error) {
	data, err := r.rdb.Get(ctx, r.sessionKey(refreshToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrInvalidToken
		}
		r.log.Error("Failed to get session", "error", err)
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, refreshToken string) error {
	key := r.sessionKey(refreshToken)
	session, err := r.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidToken) {
			return nil
		}
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, r.userKey(session.UserID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to delete session", "error", err)
		return err
	}
	return nil
}

func (r *sessionRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	keys, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		r.log.Error("Failed to list user sessions", "error", err, "user_id", userID)
		return err
	}

	keys = append(keys, r.userKey(userID))
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.log.Error("Failed to delete user sessions", "error", err, "user_id", userID)
		return err
	}
	return nil
}
