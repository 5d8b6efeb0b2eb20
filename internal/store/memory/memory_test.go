package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/memory"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TxRepository {
		return memory.New()
	})
}

func TestNewSeededUsesEnvPasswords(t *testing.T) {
	t.Setenv("SEED_AUDITOR_PASSWORD", "audit-secret")

	users, err := memory.NewSeeded().ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 4)

	byName := map[string]domain.UserAccount{}
	for _, u := range users {
		byName[u.Username] = u
	}
	auditor := byName["auditor"]
	assert.Equal(t, domain.RoleAuditor, auditor.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(auditor.Password), []byte("audit-secret")))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(byName["cashier"].Password), []byte("cashier123")))
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.New().WithTx(ctx, func(store.Repository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConcurrentUnitsOfWorkSerialize(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(r store.Repository) error {
				return r.CreateAuditLog(ctx, domain.AuditLog{ID: "a", Action: "x"})
			})
		}()
	}
	wg.Wait()

	logs, err := s.ListAuditLogs(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 20)
}
