package repository

import (
	"database/sql"

	"directchat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Repositories struct {
	Message   MessageRepository
	User      UserRepository
	Audit     AuditRepository
	Session   SessionRepository
	Presence  PresenceRepository
	RateLimit RateLimitRepository
}

func NewPostgresRepositories(db *pgxpool.Pool, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Message: NewMessageRepository(db, log),
		User:    NewUserRepository(db, log),
		Audit:   NewAuditRepository(db, log),
	}
	repos.attachRedis(rdb, log)
	log.Info("Repositories initialized", "driver", "postgres")
	return repos
}

func NewSQLiteRepositories(db *sql.DB, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Message: NewSQLiteMessageRepository(db, log),
		User:    NewSQLiteUserRepository(db, log),
		Audit:   NewSQLiteAuditRepository(db, log),
	}
	repos.attachRedis(rdb, log)
	log.Info("Repositories initialized", "driver", "sqlite")
	return repos
}

func (r *Repositories) attachRedis(rdb *redis.Client, log logger.Logger) {
	r.Session = NewSessionRepository(rdb, log)
	r.Presence = NewPresenceRepository(rdb, log)
	r.RateLimit = NewRateLimitRepository(rdb, log)
}
