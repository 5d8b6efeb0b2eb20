package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	StoreDriver            string
	DatabaseURL            string
	MigrateOnStart         bool
	SQLitePath             string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	SessionCacheTTL        time.Duration
	AuthSecret             string
	AccessTokenTTL         time.Duration
	Currency               string
	EnforceBalancedJournal bool
	// LoginRateLimit uses the limiter format "<count>-<period>", e.g. "5-M".
	LoginRateLimit string
	LogLevel       string
	LogFormat      string
	// Permissions maps role -> capability names. Nil means the built-in table.
	Permissions map[string][]string
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the process
// environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("SQLITE_PATH", "fie.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_CACHE_TTL", "10m")
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "8h")
	v.SetDefault("CURRENCY", "USD")
	v.SetDefault("ENFORCE_BALANCED_JOURNAL", true)
	v.SetDefault("LOGIN_RATE_LIMIT", "5-M")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		StoreDriver:            strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		MigrateOnStart:         v.GetBool("MIGRATE_ON_START"),
		SQLitePath:             v.GetString("SQLITE_PATH"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		SessionCacheTTL:        duration(v, "SESSION_CACHE_TTL", 10*time.Minute),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTL:         duration(v, "ACCESS_TOKEN_TTL", 8*time.Hour),
		Currency:               strings.ToUpper(strings.TrimSpace(v.GetString("CURRENCY"))),
		EnforceBalancedJournal: v.GetBool("ENFORCE_BALANCED_JOURNAL"),
		LoginRateLimit:         v.GetString("LOGIN_RATE_LIMIT"),
		LogLevel:               strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:              strings.ToLower(v.GetString("LOG_FORMAT")),
	}
	if v.IsSet("permissions") {
		cfg.Permissions = v.GetStringMapStringSlice("permissions")
	}

	switch cfg.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// SlogLevel maps LOG_LEVEL onto slog; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func duration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", slog.String("key", key), slog.String("value", raw), slog.String("default", fallback.String()))
		return fallback
	}
	return d
}
