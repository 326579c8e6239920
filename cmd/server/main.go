package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"video-sharing/cmd/config"
	"video-sharing/pkg/auth"
	"video-sharing/pkg/database"
	"video-sharing/pkg/handlers"
	"video-sharing/pkg/logger"
	"video-sharing/pkg/ratelimit"
	"video-sharing/pkg/s3"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	l, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()

	if err := run(cfg, l); err != nil {
		l.Errorw("server stopped", "error", err)
		_ = l.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, l *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := database.OpenBackend(database.BackendConfig{
		Kind:          cfg.Store.Backend,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.Redis.Addr,
		RedisPassword: cfg.Store.Redis.Password,
		RedisDB:       cfg.Store.Redis.DB,
		RedisKey:      cfg.Store.Redis.Key,
	})
	if err != nil {
		return fmt.Errorf("open store backend: %w", err)
	}
	store := database.New(backend,
		database.WithLogger(l.Named("store")),
		database.WithDegradeOnReadError(cfg.Store.DegradeOnReadError),
	)
	defer func() {
		if err := store.Close(); err != nil {
			l.Warnw("failed to close store", "error", err)
		}
	}()

	adminHash, err := auth.HashPassword(cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Initialize(initCtx, database.AdminSeed{
		Username:     cfg.Admin.Username,
		Email:        cfg.Admin.Email,
		PasswordHash: adminHash,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	l.Infow("store ready", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	media, uploadsDir, err := openMedia(cfg)
	if err != nil {
		return err
	}

	sessions := auth.NewSessions(auth.SessionConfig{
		Secret:      cfg.Session.Secret,
		CookieName:  cfg.Session.CookieName,
		Secure:      cfg.Session.Secure,
		TTL:         cfg.Session.TTL,
		RememberTTL: cfg.Session.RememberTTL,
	})

	limits := ratelimit.DefaultConfig()
	if cfg.RateLimit.Every > 0 {
		limits.Rate = rate.Every(cfg.RateLimit.Every)
	}
	if cfg.RateLimit.Burst > 0 {
		limits.Burst = cfg.RateLimit.Burst
	}

	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandler(store, sessions, media, l.Named("http"), handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedTypes:   cfg.Media.AllowedTypes,
		UploadsDir:     uploadsDir,
		UploadsURL:     cfg.Media.URLPrefix,
		PublicDir:      cfg.Server.PublicDir,
		AuthLimiter:    ratelimit.New(limits),
		TrustedProxies: cfg.Server.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Infow("starting server", "addr", srv.Addr, "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openMedia returns the configured media storage and, for local storage,
// the directory the router should serve.
func openMedia(cfg *config.Config) (s3.Storage, string, error) {
	if cfg.Media.Backend == "s3" {
		storage, err := s3.NewS3Storage(s3.S3Config{
			Region:   cfg.AWS.Region,
			Bucket:   cfg.AWS.S3Bucket,
			Prefix:   cfg.AWS.S3Prefix,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			return nil, "", err
		}
		return storage, "", nil
	}
	storage, err := s3.NewLocalStorage(cfg.Media.Dir, cfg.Media.URLPrefix)
	if err != nil {
		return nil, "", err
	}
	return storage, storage.Dir(), nil
}
