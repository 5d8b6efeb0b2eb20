// Package storetest holds behaviour every store.TxRepository must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/xid"
)

// Run exercises repo. Record IDs are unique per call so a shared database
// can be reused between runs.
func Run(t *testing.T, newRepo func(t *testing.T) store.TxRepository) {
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, newRepo(t)) })
	t.Run("SessionVersionCAS", func(t *testing.T) { testSessionVersionCAS(t, newRepo(t)) })
	t.Run("TransactionRoundTrip", func(t *testing.T) { testTransactionRoundTrip(t, newRepo(t)) })
	t.Run("TransactionStatusCAS", func(t *testing.T) { testTransactionStatusCAS(t, newRepo(t)) })
	t.Run("TransactionDelete", func(t *testing.T) { testTransactionDelete(t, newRepo(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newRepo(t)) })
	t.Run("AuditLogs", func(t *testing.T) { testAuditLogs(t, newRepo(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
}

// now is truncated to the coarsest precision any backend keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func cash(amount int64) balance.Vector {
	v, _ := balance.Of(map[balance.PaymentMethod]decimal.Decimal{balance.Cash: decimal.NewFromInt(amount)})
	return v
}

func openSession(registerID string, at time.Time) domain.RegisterSession {
	return domain.RegisterSession{
		ID:              xid.New("ses"),
		RegisterID:      registerID,
		OpenedBy:        "cashier",
		OpenedAt:        at,
		OpeningBalance:  cash(500),
		ExpectedBalance: cash(500),
		Version:         1,
	}
}

func testSessionLifecycle(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	registerID := xid.New("reg")
	opened := now()
	first := openSession(registerID, opened)
	require.NoError(t, repo.CreateSession(ctx, first))

	got, err := repo.GetOpenSession(ctx, registerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.OpeningBalance.Equal(cash(500)))
	assert.True(t, got.OpenedAt.Equal(opened))
	assert.Nil(t, got.ClosingBalance)
	assert.True(t, got.IsOpen())

	second := openSession(registerID, opened.Add(time.Second))
	err = repo.CreateSession(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	closedAt := opened.Add(time.Minute)
	closing := cash(495)
	diff := balance.Subtract(closing, first.ExpectedBalance)
	closed := *got
	closed.ClosedAt = &closedAt
	closed.ClosedBy = "cashier"
	closed.ClosingBalance = &closing
	closed.Discrepancies = &diff
	closed.DiscrepancyResolution = domain.ResolutionPending
	closed.Version = got.Version + 1
	require.NoError(t, repo.UpdateSession(ctx, closed, got.Version))

	_, err = repo.GetOpenSession(ctx, registerID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	reloaded, err := repo.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ClosingBalance)
	require.NotNil(t, reloaded.Discrepancies)
	assert.True(t, reloaded.Discrepancies.Equal(cash(-5)))
	assert.Equal(t, domain.ResolutionPending, reloaded.DiscrepancyResolution)
	assert.Equal(t, int64(2), reloaded.Version)
	assert.False(t, reloaded.IsOpen())

	require.NoError(t, repo.CreateSession(ctx, second))
	sessions, err := repo.ListSessions(ctx, registerID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)

	_, err = repo.GetSession(ctx, "ses-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSessionVersionCAS(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	session := openSession(xid.New("reg"), now())
	require.NoError(t, repo.CreateSession(ctx, session))

	next := session
	next.ExpectedBalance = cash(620)
	next.Version = 2
	require.NoError(t, repo.UpdateSession(ctx, next, 1))

	lost := session
	lost.ExpectedBalance = cash(700)
	lost.Version = 2
	assert.ErrorIs(t, repo.UpdateSession(ctx, lost, 1), store.ErrStale)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpectedBalance.Equal(cash(620)))

	missing := session
	missing.ID = "ses-missing"
	assert.ErrorIs(t, repo.UpdateSession(ctx, missing, 1), store.ErrNotFound)
}

func newTransaction(sessionID string, at time.Time) domain.Transaction {
	id := xid.New("tx")
	return domain.Transaction{
		ID:                id,
		Type:              domain.TxTypeSale,
		Amount:            decimal.RequireFromString("150.00"),
		Description:       "counter sale",
		BranchID:          "main",
		RegisterSessionID: sessionID,
		Status:            domain.TxStatusOpen,
		CreatedAt:         at,
		UpdatedAt:         at,
		CreatedBy:         "cashier",
		Payments: []domain.Payment{
			{Method: balance.Cash, Amount: decimal.NewFromInt(100)},
			{Method: balance.Card, Amount: decimal.NewFromInt(50)},
		},
		JournalEntries: []domain.JournalEntry{
			{ID: xid.New("je"), TransactionID: id, AccountType: domain.AccountCash, Amount: decimal.NewFromInt(150), IsDebit: true, CreatedAt: at, CreatedBy: "cashier"},
			{ID: xid.New("je"), TransactionID: id, AccountType: domain.AccountRevenue, Amount: decimal.NewFromInt(150), IsDebit: false, Description: "sale", CreatedAt: at, CreatedBy: "cashier"},
		},
	}
}

func testTransactionRoundTrip(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	session := openSession(xid.New("reg"), now())
	require.NoError(t, repo.CreateSession(ctx, session))

	tx := newTransaction(session.ID, now())
	require.NoError(t, repo.CreateTransaction(ctx, tx))
	assert.ErrorIs(t, repo.CreateTransaction(ctx, tx), store.ErrDuplicate)

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeSale, got.Type)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.Equal(t, session.ID, got.RegisterSessionID)
	require.Len(t, got.Payments, 2)
	assert.Equal(t, balance.Cash, got.Payments[0].Method)
	assert.True(t, got.Payments[1].Amount.Equal(decimal.NewFromInt(50)))
	require.Len(t, got.JournalEntries, 2)
	assert.Equal(t, domain.AccountCash, got.JournalEntries[0].AccountType)
	assert.True(t, got.JournalEntries[0].IsDebit)
	assert.Equal(t, "sale", got.JournalEntries[1].Description)

	more := []domain.JournalEntry{
		{ID: xid.New("je"), TransactionID: tx.ID, AccountType: domain.AccountExpense, Amount: decimal.NewFromInt(3), IsDebit: true, CreatedAt: now(), CreatedBy: "cashier"},
		{ID: xid.New("je"), TransactionID: tx.ID, AccountType: domain.AccountCash, Amount: decimal.NewFromInt(3), IsDebit: false, CreatedAt: now(), CreatedBy: "cashier"},
	}
	require.NoError(t, repo.AddJournalEntries(ctx, tx.ID, more))

	updated := *got
	updated.Description = "corrected"
	updated.ReferenceID = "INV-7"
	updated.UpdatedBy = "manager"
	updated.UpdatedAt = now()
	require.NoError(t, repo.UpdateTransactionDetails(ctx, updated))

	got, err = repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrected", got.Description)
	assert.Equal(t, "INV-7", got.ReferenceID)
	assert.Equal(t, "manager", got.UpdatedBy)
	require.Len(t, got.JournalEntries, 4)
	assert.Equal(t, domain.AccountExpense, got.JournalEntries[2].AccountType)

	list, err := repo.ListTransactions(ctx, domain.TransactionFilter{RegisterSessionID: session.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tx.ID, list[0].ID)
	assert.Nil(t, list[0].Payments)

	list, err = repo.ListTransactions(ctx, domain.TransactionFilter{RegisterSessionID: session.ID, Status: domain.TxStatusLocked})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testTransactionStatusCAS(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	tx := newTransaction("", now())
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	require.NoError(t, repo.UpdateTransactionStatus(ctx, tx.ID, domain.TxStatusOpen, domain.TxStatusLocked, "cashier", now()))
	assert.ErrorIs(t, repo.UpdateTransactionStatus(ctx, tx.ID, domain.TxStatusOpen, domain.TxStatusLocked, "cashier", now()), store.ErrStale)
	assert.ErrorIs(t, repo.UpdateTransactionStatus(ctx, "tx-missing", domain.TxStatusOpen, domain.TxStatusLocked, "cashier", now()), store.ErrNotFound)

	edit := tx
	edit.Description = "too late"
	assert.ErrorIs(t, repo.UpdateTransactionDetails(ctx, edit), store.ErrStale)
	assert.ErrorIs(t, repo.AddJournalEntries(ctx, tx.ID, tx.JournalEntries[:1]), store.ErrStale)

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusLocked, got.Status)
	assert.Equal(t, "counter sale", got.Description)
	assert.Len(t, got.JournalEntries, 2)
}

func testTransactionDelete(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	tx := newTransaction("", now())
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	assert.ErrorIs(t, repo.DeleteTransaction(ctx, tx.ID, domain.TxStatusLocked), store.ErrStale)
	require.NoError(t, repo.DeleteTransaction(ctx, tx.ID, domain.TxStatusOpen))

	_, err := repo.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteTransaction(ctx, tx.ID, domain.TxStatusOpen), store.ErrNotFound)

	// The same entry IDs can be reused once the parent is gone.
	require.NoError(t, repo.CreateTransaction(ctx, tx))
}

var errAbort = errors.New("abort")

func testWithTxRollback(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	kept := openSession(xid.New("reg"), now())
	dropped := openSession(xid.New("reg"), now())

	err := repo.WithTx(ctx, func(r store.Repository) error {
		return r.CreateSession(ctx, kept)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(r store.Repository) error {
		if err := r.CreateSession(ctx, dropped); err != nil {
			return err
		}
		if _, err := r.GetSession(ctx, dropped.ID); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, err = repo.GetSession(ctx, kept.ID)
	assert.NoError(t, err)
	_, err = repo.GetSession(ctx, dropped.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAuditLogs(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	entityID := xid.New("ses")
	base := now()
	for i, action := range []string{"register.open", "register.close"} {
		require.NoError(t, repo.CreateAuditLog(ctx, domain.AuditLog{
			ID:            xid.New("audit"),
			ActorUsername: "cashier",
			ActorRole:     domain.RoleCashier,
			Action:        action,
			EntityType:    "register_session",
			EntityID:      entityID,
			Detail:        "register=R1",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := repo.ListAuditLogs(ctx, domain.AuditFilter{EntityType: "register_session", EntityID: entityID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "register.close", logs[0].Action)
	assert.Equal(t, domain.RoleCashier, logs[0].ActorRole)

	logs, err = repo.ListAuditLogs(ctx, domain.AuditFilter{EntityID: entityID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func testUsers(t *testing.T, repo store.TxRepository) {
	ctx := context.Background()
	username := xid.New("user")

	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: username, Password: "hash-1", Role: domain.RoleAuditor, Active: true}))
	assert.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: username, Password: "hash-2"}), store.ErrDuplicate)
	assert.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: " ", Password: "x"}), store.ErrInvalid)

	require.NoError(t, repo.UpdateUserPassword(ctx, username, "hash-3"))
	assert.ErrorIs(t, repo.UpdateUserPassword(ctx, xid.New("user"), "hash-4"), store.ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == username {
			found = &users[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "hash-3", found.Password)
	assert.Equal(t, domain.RoleAuditor, found.Role)
	assert.True(t, found.Active)
}
