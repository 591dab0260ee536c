package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"directchat/internal/config"
	"directchat/internal/handler"
	"directchat/internal/middleware"
	"directchat/internal/realtime"
	"directchat/internal/repository"
	"directchat/internal/service"
	"directchat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var appLogger logger.Logger
	if cfg.IsProduction() {
		appLogger = logger.New(cfg.Log.Level)
	} else {
		appLogger = logger.NewConsole(cfg.Log.Level)
	}

	// Redis holds sessions, presence and rate limit counters.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	repos, pinger, closeStore := openStore(cfg, rdb, appLogger)
	defer closeStore()

	// Presence from a previous run is stale.
	if err := repos.Presence.Clear(context.Background()); err != nil {
		appLogger.Warn("Failed to clear presence roster", "error", err)
	}

	registry := realtime.NewRegistry(repos.Presence, appLogger)
	services := service.NewServices(repos, registry, cfg, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	handlers := handler.NewHandlers(services, registry, pinger, cfg, appLogger)
	router := handler.NewRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
	}).Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	registry.Close()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

// openStore connects the configured message store and returns the
// repositories, a health pinger and a close function.
func openStore(cfg *config.Config, rdb *redis.Client, appLogger logger.Logger) (*repository.Repositories, handler.Pinger, func()) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err := repository.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			appLogger.Fatal("Failed to open sqlite database", "error", err, "path", cfg.Database.SQLitePath)
		}
		appLogger.Info("SQLite database opened", "path", cfg.Database.SQLitePath)
		return repository.NewSQLiteRepositories(db, rdb, appLogger), handler.PingFunc(db.PingContext), func() { _ = db.Close() }

	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			appLogger.Fatal("Invalid database DSN", "error", err)
		}
		if cfg.Database.MaxConnections > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
		}
		poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

		dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		if err := dbPool.Ping(context.Background()); err != nil {
			appLogger.Fatal("Failed to ping database", "error", err)
		}
		appLogger.Info("Database connection established")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := repository.MigratePostgres(ctx, dbPool); err != nil {
			appLogger.Fatal("Failed to migrate database", "error", err)
		}

		return repository.NewPostgresRepositories(dbPool, rdb, appLogger), handler.PingFunc(dbPool.Ping), dbPool.Close
	}
}
