package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dhatri/internal/api"
	"dhatri/internal/audit"
	"dhatri/internal/auth"
	"dhatri/internal/config"
	"dhatri/internal/db"
	"dhatri/internal/janitor"
	"dhatri/internal/ledger"
	"dhatri/internal/lockout"
	"dhatri/internal/logging"
	"dhatri/internal/notify"
	"dhatri/internal/rate"
	"dhatri/internal/service"
	"dhatri/internal/store"
	"dhatri/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqdb, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer sqdb.Close()
	if err := db.Migrate(ctx, sqdb, cfg.DBDriver, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	st := store.NewWithDialect(sqdb, cfg.DBDriver)
	hasher := auth.NewHasher(cfg.BcryptRounds)
	codec := auth.NewCodec(auth.CodecConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
	tokens := ledger.New(st, st, codec, cfg.RevokedTokenRetention, nil)
	tracker := lockout.NewTracker(lockout.Policy{MaxAttempts: cfg.MaxLoginAttempts, LockDuration: cfg.LockDuration}, st, nil)
	recorder := audit.NewRecorder(st, log)

	svc := service.New(service.Options{
		Store:            st,
		Hasher:           hasher,
		Codec:            codec,
		Ledger:           tokens,
		Lockout:          tracker,
		Audit:            recorder,
		Notifier:         notify.NewSender(cfg, log),
		Log:              log,
		AllowAdminSignup: cfg.AllowAdminSignup,
	})

	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		if err := svc.EnsureAdmin(ctx, cfg.BootstrapAdminName, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		log.Info("bootstrap admin ensured", zap.String("email", cfg.BootstrapAdminEmail))
	}

	var counter rate.AttemptCounter
	if cfg.BruteForceBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		counter = rate.NewRedisCounter(rdb, cfg.BruteForceMaxAttempts, cfg.BruteForceWindow)
	} else {
		counter = rate.NewMemoryCounter(cfg.BruteForceMaxAttempts, cfg.BruteForceWindow, nil)
	}

	r := api.NewRouter(cfg, svc, api.Deps{
		Users:   st,
		Audit:   recorder,
		Counter: counter,
		Log:     log,
	})

	go janitor.New(tokens, st, cfg.AuditRetention, log, nil).Run(ctx, cfg.CleanupInterval)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env), zap.String("db", cfg.DBDriver),
			zap.String("version", version.Current().Version))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := hsrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDB(cfg config.Config) (*sql.DB, error) {
	pool := db.PoolConfig{MaxOpen: cfg.DBMaxOpenConns, MaxIdle: cfg.DBMaxIdleConns, MaxLifetime: cfg.DBConnMaxLifetime}
	sqdb, err := db.Open(cfg.DBDriver, cfg.DBDSN, pool)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	return sqdb, nil
}
