package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/cache"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/config"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/httpapi"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/service"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/memory"
	pgstore "github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/postgres"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", slog.String("error", err.Error()))
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}
	if err := seedAdmin(ctx, repo, os.Getenv("SEED_ADMIN_PASSWORD")); err != nil {
		return err
	}

	sessionCache := cache.SessionCache(cache.NoopSessionCache{})
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", slog.String("error", err.Error()))
			_ = redisCache.Close()
		} else {
			sessionCache = redisCache
			redisClient = redisCache.Client()
			closers = append(closers, redisCache.Close)
			logger.Info("session cache: redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	gate, err := permissionTable(cfg)
	if err != nil {
		return err
	}

	svc := service.New(service.Deps{
		Repo:                   repo,
		Gate:                   gate,
		Cache:                  sessionCache,
		CacheTTL:               cfg.SessionCacheTTL,
		Logger:                 logger,
		Currency:               cfg.Currency,
		EnforceBalancedJournal: cfg.EnforceBalancedJournal,
	})

	loginLimiter, err := httpapi.NewLoginLimiter(cfg.LoginRateLimit, redisClient)
	if err != nil {
		return err
	}
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		LoginLimiter:  loginLimiter,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("financial integrity engine listening", slog.String("addr", cfg.Address()), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openRepository returns the store selected by STORE_DRIVER and its closer,
// which is nil for the in-memory store.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.TxRepository, func() error, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.MigrateOnStart {
			applied, err := pgstore.Migrate(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("postgres migrations checked", slog.Bool("applied", applied))
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	case "sqlite":
		lite, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("repository: sqlite", slog.String("path", cfg.SQLitePath))
		return lite, lite.Close, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// seedAdmin creates an admin account on an empty user table so a fresh SQL
// database can be logged into. It is a no-op when users exist or no
// password was supplied.
func seedAdmin(ctx context.Context, users store.UserStore, password string) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(existing) > 0 || password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	return users.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func permissionTable(cfg config.Config) (authz.Table, error) {
	if cfg.Permissions == nil {
		return authz.DefaultTable(), nil
	}
	table, err := authz.FromConfig(cfg.Permissions)
	if err != nil {
		return nil, err
	}
	return table, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if money.GetCurrency(cfg.Currency) == nil {
		return fmt.Errorf("CURRENCY %q is not an ISO 4217 code", cfg.Currency)
	}
	return nil
}
