package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"directchat/internal/config"
	"directchat/internal/domain"
	"directchat/internal/repository"
	"directchat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type delivery struct {
	UserID  uuid.UUID
	Event   string
	Payload interface{}
}

// recordingNotifier captures pushes and reports users in online as connected.
type recordingNotifier struct {
	mu         sync.Mutex
	online     map[uuid.UUID]bool
	deliveries []delivery
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{online: make(map[uuid.UUID]bool)}
}

func (n *recordingNotifier) Deliver(userID uuid.UUID, event string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[userID] {
		return false
	}
	n.deliveries = append(n.deliveries, delivery{UserID: userID, Event: event, Payload: payload})
	return true
}

func (n *recordingNotifier) setOnline(userID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online[userID] = true
}

func (n *recordingNotifier) all() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

type testEnv struct {
	repos    *repository.Repositories
	services *Services
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret",
			RefreshSecret: "refresh-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			Issuer:        "directchat-test",
		},
		RateLimit: config.RateLimitConfig{Requests: 3, Window: time.Minute},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.Nop()
	cfg := testConfig()
	repos := repository.NewSQLiteRepositories(db, rdb, log)
	notifier := newRecordingNotifier()

	return &testEnv{
		repos:    repos,
		services: NewServices(repos, notifier, cfg, log),
		notifier: notifier,
		redis:    mr,
		cfg:      cfg,
	}
}

func (e *testEnv) register(t *testing.T, name string) *domain.User {
	t.Helper()

	resp, err := e.services.Auth.Register(context.Background(), RegisterInput{
		Email:    name + "@example.com",
		Password: "secret-password",
		FullName: name,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return resp.User
}

func text(s string) *string {
	return &s
}

func ruleForTest(env *testEnv) domain.RateLimitRule {
	return domain.RateLimitRule{
		Scope:  domain.RateLimitScopeUser,
		Limit:  env.cfg.RateLimit.Requests,
		Window: env.cfg.RateLimit.Window,
	}
}
