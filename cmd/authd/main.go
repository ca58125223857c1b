// Command authd runs the authentication and account service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tradingapp/authd/internal/auth"
	"github.com/tradingapp/authd/internal/config"
	"github.com/tradingapp/authd/internal/database"
	"github.com/tradingapp/authd/internal/httpapi"
	"github.com/tradingapp/authd/internal/mail"
	"github.com/tradingapp/authd/internal/password"
	"github.com/tradingapp/authd/internal/store"
	"github.com/tradingapp/authd/internal/token"
)

const resetTokenCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	pg, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.RunMigrations(cfg.Database); err != nil {
		return err
	}
	logger.Info("database migrations applied")

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	tokens, err := token.NewManager(token.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.JWTIssuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
		Leeway:     30 * time.Second,
	})
	if err != nil {
		return err
	}

	mailer := mail.NewDispatcher(mail.LogSender{Logger: logger}, cfg.Mail.QueueSize, logger)
	defer mailer.Close()

	users := store.NewUserStore(pg.Pool())
	resets := store.NewResetTokenStore(pg.Pool())

	svc := auth.NewService(
		users,
		resets,
		password.NewHasher(cfg.Auth.BcryptCost),
		tokens,
		mailer,
		mail.Templates{FromName: cfg.Mail.FromName, FrontendURL: cfg.Mail.FrontendURL},
		auth.Config{ResetTokenTTL: cfg.Auth.ResetTokenTTL},
		logger,
	)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Handler:     httpapi.NewHandler(svc, logger),
		Tokens:      tokens,
		Users:       users,
		RateLimiter: httpapi.NewRateLimiter(rdb, cfg.RateLimit, logger),
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		DB:          pg,
		Cache:       rdb,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, svc, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// cleanupLoop periodically removes used and expired reset tokens.
func cleanupLoop(ctx context.Context, svc *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(resetTokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := svc.CleanupExpiredResetTokens(ctx); err != nil {
				logger.Error("reset token cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
