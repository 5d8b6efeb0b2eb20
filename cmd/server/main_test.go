package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/config"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", Currency: "USD"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsUnknownCurrency(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", Currency: "XYZW"})
	if err == nil {
		t.Fatalf("expected unknown currency to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", Currency: "XOF"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "v", line["k"])

	buf.Reset()
	newLogger(config.Config{LogFormat: "text"}, &buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestOpenRepositorySelectsDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, closeFn, err := openRepository(context.Background(), config.Config{StoreDriver: "memory"}, logger)
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &memory.Store{}, repo)

	repo, closeFn, err = openRepository(context.Background(), config.Config{StoreDriver: "sqlite", SQLitePath: ":memory:"}, logger)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer func() { _ = closeFn() }()

	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSeedAdminOnlyFillsEmptyUserTable(t *testing.T) {
	repo := memory.New()

	require.NoError(t, seedAdmin(context.Background(), repo, ""))
	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users, "no password, no account")

	require.NoError(t, seedAdmin(context.Background(), repo, "first-admin-pass"))
	require.NoError(t, seedAdmin(context.Background(), repo, "second-admin-pass"))

	users, err = repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].Password), []byte("first-admin-pass")))
}

func TestPermissionTableFromConfig(t *testing.T) {
	table, err := permissionTable(config.Config{})
	require.NoError(t, err)
	assert.True(t, table.HasPermission(domain.Actor{Username: "m", Role: domain.RoleManager}, authz.Secure))

	table, err = permissionTable(config.Config{Permissions: map[string][]string{"cashier": {"open_register"}}})
	require.NoError(t, err)
	assert.Equal(t, []authz.Capability{authz.OpenRegister}, table.Grants(domain.RoleCashier))
	assert.False(t, table.HasPermission(domain.Actor{Username: "m", Role: domain.RoleManager}, authz.Secure))

	_, err = permissionTable(config.Config{Permissions: map[string][]string{"cashier": {"fly"}}})
	assert.Error(t, err)
}
