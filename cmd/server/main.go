package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wishstash/wishstash/internal/server/events"
	"github.com/wishstash/wishstash/internal/server/handlers"
	"github.com/wishstash/wishstash/internal/server/middleware"
	"github.com/wishstash/wishstash/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

// config holds the server configuration. Defaults come from the
// environment (optionally a .env file); flags override.
type config struct {
	addr            string
	dbPath          string
	jwtSecret       string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	logLevel        string
}

func loadConfig() (*config, error) {
	// A missing .env file is not an error; real deployments set the
	// environment directly
	_ = godotenv.Load()

	cfg := &config{}

	flag.StringVar(&cfg.addr, "addr", envOr("WISHSTASH_ADDR", ":8080"), "listen address")
	flag.StringVar(&cfg.dbPath, "db", envOr("WISHSTASH_DB_PATH", "wishstash.db"), "path to the sqlite database")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("WISHSTASH_JWT_SECRET"), "JWT signing secret")
	flag.DurationVar(&cfg.accessTokenTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	flag.DurationVar(&cfg.refreshTokenTTL, "refresh-ttl", 30*24*time.Hour, "refresh token lifetime")
	flag.StringVar(&cfg.logLevel, "log-level", envOr("WISHSTASH_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if cfg.jwtSecret == "" {
		return nil, errors.New("JWT secret is required (WISHSTASH_JWT_SECRET or -jwt-secret)")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	jwtConfig := handlers.JWTConfig{
		Secret:          []byte(cfg.jwtSecret),
		AccessTokenTTL:  cfg.accessTokenTTL,
		RefreshTokenTTL: cfg.refreshTokenTTL,
	}

	hub := events.NewHub(logger)

	authHandler := handlers.NewAuthHandler(logger, store, store, jwtConfig)
	syncHandler := handlers.NewSyncHandler(logger, store, hub)
	eventsHandler := handlers.NewEventsHandler(logger, hub)
	importHandler := handlers.NewImportHandler(logger, store, hub)
	healthHandler := handlers.NewHealthHandler(logger)

	authRequired := middleware.AuthMiddleware(logger, jwtConfig)
	loginLimiter := middleware.RateLimitMiddleware(20, time.Minute, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.Handle("POST /api/v1/auth/register", loginLimiter(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/v1/auth/login", loginLimiter(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/v1/auth/refresh", loginLimiter(http.HandlerFunc(authHandler.Refresh)))
	mux.Handle("POST /api/v1/auth/logout", authRequired(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("POST /api/v1/sync/{collection}/pull", authRequired(http.HandlerFunc(syncHandler.Pull)))
	mux.Handle("POST /api/v1/sync/{collection}/push", authRequired(http.HandlerFunc(syncHandler.Push)))
	mux.Handle("GET /api/v1/events", authRequired(http.HandlerFunc(eventsHandler.Stream)))
	mux.Handle("POST /api/v1/import", authRequired(http.HandlerFunc(importHandler.Import)))

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(mux))

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expired refresh tokens are purged in the background while the
	// server runs
	go cleanupExpiredTokens(ctx, logger, store)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.addr),
			slog.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

// cleanupExpiredTokens deletes expired refresh tokens once an hour
func cleanupExpiredTokens(ctx context.Context, logger *slog.Logger, store *sqlite.Storage) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := store.DeleteExpiredTokens(ctx)
			if err != nil {
				logger.Error("failed to delete expired tokens", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("deleted expired refresh tokens", slog.Int("count", deleted))
			}
		case <-ctx.Done():
			return
		}
	}
}

func printVersion() {
	fmt.Printf("WishStash Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
