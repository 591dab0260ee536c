package repository

import (
	"context"

	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:online"

// PresenceRepository mirrors the set of users with a live connection so other
// processes can answer "who is online" without touching the registry.
type PresenceRepository interface {
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	MarkOffline(ctx context.Context, userID uuid.UUID) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	ListOnline(ctx context.Context) ([]uuid.UUID, error)
	Clear(ctx context.Context) error
}

type presenceRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewPresenceRepository(rdb *redis.Client, log logger.Logger) PresenceRepository {
	return &presenceRepository{rdb: rdb, log: log}
}

func (r *presenceRepository) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.rdb.SAdd(ctx, presenceKey, userID.String()).Err(); err != nil {
		r.log.Error("Failed to mark user online", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *presenceRepository) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.rdb.SRem(ctx, presenceKey, userID.String()).Err(); err != nil {
		r.log.Error("Failed to mark user offline", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *presenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return r.rdb.SIsMember(ctx, presenceKey, userID.String()).Result()
}

func (r *presenceRepository) ListOnline(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.rdb.SMembers(ctx, presenceKey).Result()
	if err != nil {
		r.log.Error("Failed to list online users", "error", err)
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			r.log.Warn("Skipping malformed presence entry", "member", member)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *presenceRepository) Clear(ctx context.Context) error {
	return r.rdb.Del(ctx, presenceKey).Err()
}
