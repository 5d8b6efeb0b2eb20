package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 10*time.Minute, cfg.SessionCacheTTL)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.True(t, cfg.EnforceBalancedJournal)
	assert.Equal(t, "5-M", cfg.LoginRateLimit)
	assert.Nil(t, cfg.Permissions)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("ACCESS_TOKEN_TTL", "not-a-duration")
	t.Setenv("ENFORCE_BALANCED_JOURNAL", "false")
	t.Setenv("CURRENCY", "xof")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/ledger.db", cfg.SQLitePath)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.False(t, cfg.EnforceBalancedJournal)
	assert.Equal(t, "XOF", cfg.Currency)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadRejectsBadDriverSettings(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", "mongo")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadPermissionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fie.yaml")
	content := []byte(`
port: "9090"
permissions:
  cashier: [open_register, close_register, create_transaction]
  auditor: [verify, view_audit]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.ElementsMatch(t, []string{"open_register", "close_register", "create_transaction"}, cfg.Permissions["cashier"])
	assert.ElementsMatch(t, []string{"verify", "view_audit"}, cfg.Permissions["auditor"])
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
