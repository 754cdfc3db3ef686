package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/config"
	"github.com/thatmoment/server/internal/db"
	httphandler "github.com/thatmoment/server/internal/http"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/mail"
	"github.com/thatmoment/server/internal/middleware"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
	"github.com/thatmoment/server/internal/repo/memstore"
)

const (
	mailWorkers   = 4
	mailQueueSize = 256
	mailTimeout   = 30 * time.Second
)

func main() {
	// Load .env from CWD (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "thatmoment-api",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	stores, ping, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sender, closeSender := newSender(cfg, log)
	defer closeSender()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	router := httphandler.NewRouter(httphandler.Deps{
		Config:  cfg,
		Auth:    auth.New(cfg, stores, sender, log),
		Limiter: limiter,
		Ping:    ping,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

// openStores selects PostgreSQL or the in-memory store
func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (auth.Stores, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		store := memstore.New()
		return auth.Stores{
			Users:    store.Users(),
			Codes:    store.Codes(),
			Sessions: store.Sessions(),
			Refresh:  store.RefreshTokens(),
			Tx:       store,
		}, nil, func() {}, nil
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return auth.Stores{}, nil, nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return auth.Stores{}, nil, nil, err
	}

	return auth.Stores{
		Users:    repo.NewUserRepo(database),
		Codes:    repo.NewCodeRepo(database),
		Sessions: repo.NewSessionRepo(database),
		Refresh:  repo.NewRefreshRepo(database),
		Tx:       db.NewTxRunner(database),
	}, database.PingContext, func() { _ = database.Close() }, nil
}

// newSender delivers over SMTP through the async queue, or only logs when no
// SMTP host is configured.
func newSender(cfg *config.Config, log logrus.FieldLogger) (auth.EmailSender, func()) {
	if cfg.SMTP.Host == "" {
		log.Warn("SMTP_HOST not set; verification codes are not emailed")
		return mail.NewLogSender(log, cfg.DevMode), func() {}
	}

	smtp := mail.NewSMTPSender(cfg.SMTP, mail.Renderer{
		Product: cfg.SMTP.FromName,
		TTLs: map[model.CodePurpose]time.Duration{
			model.PurposeEmailVerify: cfg.EmailCodeTTL,
			model.PurposeLoginOTP:    cfg.LoginCodeTTL,
		},
	}, log)
	async := mail.NewAsyncSender(smtp, mailWorkers, mailQueueSize, mailTimeout, log)
	return async, async.Close
}

// newLimiter shares limits through Redis when REDIS_URL is set
func newLimiter(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (middleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		limiter := middleware.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
		return limiter, limiter.Close, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable at startup; rate limiting fails open until it recovers")
	}

	limiter := middleware.NewRedisLimiter(client, "thatmoment:ratelimit:", cfg.RateLimitWindow, cfg.RateLimitMax)
	return limiter, func() { _ = client.Close() }, nil
}
