package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/apperrors"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/service"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/memory"
)

var (
	cashier = domain.Actor{Username: "kasir", Role: domain.RoleCashier}
	manager = domain.Actor{Username: "mgr", Role: domain.RoleManager}
	auditor = domain.Actor{Username: "aud", Role: domain.RoleAuditor}
	admin   = domain.Actor{Username: "root", Role: domain.RoleAdmin}
)

func newTestService(t *testing.T, opts ...func(*service.Deps)) *service.Service {
	t.Helper()
	deps := service.Deps{
		Repo:                   memory.New(),
		Gate:                   authz.DefaultTable(),
		Logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
		Currency:               "USD",
		EnforceBalancedJournal: true,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return service.New(deps)
}

func vec(t *testing.T, amounts map[balance.PaymentMethod]string) balance.Vector {
	t.Helper()
	values := make(map[balance.PaymentMethod]decimal.Decimal, len(amounts))
	for m, raw := range amounts {
		values[m] = decimal.RequireFromString(raw)
	}
	v, err := balance.Of(values)
	require.NoError(t, err)
	return v
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func assertVector(t *testing.T, want balance.Vector, got balance.Vector) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func saleRequest(registerID string, cash string, card string) domain.TransactionCreateRequest {
	total := dec(cash).Add(dec(card))
	payments := []domain.Payment{{Method: balance.Cash, Amount: dec(cash)}}
	if !dec(card).IsZero() {
		payments = append(payments, domain.Payment{Method: balance.Card, Amount: dec(card)})
	}
	return domain.TransactionCreateRequest{
		Type:        domain.TxTypeSale,
		Amount:      total,
		Description: "counter sale",
		RegisterID:  registerID,
		Payments:    payments,
		JournalEntries: []domain.JournalEntryInput{
			{AccountType: domain.AccountCash, Amount: total, IsDebit: true},
			{AccountType: domain.AccountRevenue, Amount: total, IsDebit: false},
		},
	}
}

func TestRegisterDayWithShortageResolvedOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R1", vec(t, map[balance.PaymentMethod]string{balance.Cash: "500"}), cashier)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.Version)
	assertVector(t, session.OpeningBalance, session.ExpectedBalance)

	tx, err := svc.Ledger.CreateTransaction(ctx, saleRequest("R1", "120", "80"), cashier)
	require.NoError(t, err)
	assert.Equal(t, session.ID, tx.RegisterSessionID)
	assert.Equal(t, domain.TxStatusOpen, tx.Status)

	current, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, vec(t, map[balance.PaymentMethod]string{balance.Cash: "620", balance.Card: "80"}), current.ExpectedBalance)

	closed, err := svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "615", balance.Card: "80"}), cashier)
	require.NoError(t, err)
	require.NotNil(t, closed.Discrepancies)
	assertVector(t, vec(t, map[balance.PaymentMethod]string{balance.Cash: "-5"}), *closed.Discrepancies)
	assert.Equal(t, domain.ResolutionPending, closed.DiscrepancyResolution)
	assert.Equal(t, "kasir", closed.ClosedBy)

	resolved, err := svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionDeductSalary, "shortfall charged to cashier", manager)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionDeductSalary, resolved.DiscrepancyResolution)
	assert.Equal(t, "mgr", resolved.DiscrepancyApprovedBy)
	require.NotNil(t, resolved.DiscrepancyApprovedAt)
	assert.Equal(t, "shortfall charged to cashier", resolved.DiscrepancyNotes)

	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionApproved, "second try", manager)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	final, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionDeductSalary, final.DiscrepancyResolution)
	assertVector(t, *closed.ClosingBalance, *final.ClosingBalance)
	assertVector(t, *closed.Discrepancies, *final.Discrepancies)
	assertVector(t, session.OpeningBalance, final.OpeningBalance)
}

func TestCloseWithMatchingCountNeedsNoResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	opening := vec(t, map[balance.PaymentMethod]string{balance.Cash: "250.50", balance.Wave: "10"})
	session, err := svc.Registers.Open(ctx, "R2", opening, cashier)
	require.NoError(t, err)

	closed, err := svc.Registers.Close(ctx, session.ID, opening, cashier)
	require.NoError(t, err)
	require.NotNil(t, closed.Discrepancies)
	assert.True(t, balance.IsZero(*closed.Discrepancies))
	assert.Empty(t, closed.DiscrepancyResolution)

	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionApproved, "", manager)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
}

func TestResolveOpenSessionFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R3", balance.Zero(), cashier)
	require.NoError(t, err)

	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionApproved, "", manager)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
}

func TestResolveValidatesDecision(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R4", vec(t, map[balance.PaymentMethod]string{balance.Cash: "100"}), cashier)
	require.NoError(t, err)
	// Counted more than expected: an overage, not a shortage.
	_, err = svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "110"}), cashier)
	require.NoError(t, err)

	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionPending, "", manager)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.Resolution("forgive"), "", manager)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionDeductSalary, "", manager)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionEcartCaisse, "", cashier)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	resolved, err := svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionEcartCaisse, "  booked to over/short  ", manager)
	require.NoError(t, err)
	assert.Equal(t, "booked to over/short", resolved.DiscrepancyNotes)
}

func TestOpenGuards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Registers.Open(ctx, "R5", balance.Zero(), auditor)
	var permErr *apperrors.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "open_register", permErr.Capability)

	_, err = svc.Registers.Open(ctx, "R5", vec(t, map[balance.PaymentMethod]string{balance.Cash: "-1"}), cashier)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Registers.Open(ctx, "  ", balance.Zero(), cashier)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	first, err := svc.Registers.Open(ctx, "R5", balance.Zero(), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Open(ctx, "R5", balance.Zero(), manager)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	open, err := svc.Registers.GetOpen(ctx, "R5")
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	// Registers are independent.
	_, err = svc.Registers.Open(ctx, "R6", balance.Zero(), cashier)
	require.NoError(t, err)
}

func TestDoubleCloseConflicts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R7", balance.Zero(), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, session.ID, balance.Zero(), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, session.ID, balance.Zero(), cashier)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.Registers.Close(ctx, "ses-unknown", balance.Zero(), cashier)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Registers.GetOpen(ctx, "R7")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	reopened, err := svc.Registers.Open(ctx, "R7", balance.Zero(), cashier)
	require.NoError(t, err)
	sessions, err := svc.Registers.List(ctx, "R7", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, reopened.ID, sessions[0].ID)
}

func TestConcurrentClosesOnlyOneWins(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R8", balance.Zero(), cashier)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Registers.Close(ctx, session.ID, balance.Zero(), cashier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)
}

func TestExpectedBalanceIsOpeningPlusPostings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	opening := vec(t, map[balance.PaymentMethod]string{balance.Cash: "500", balance.Bank: "1000"})
	session, err := svc.Registers.Open(ctx, "R9", opening, cashier)
	require.NoError(t, err)

	postings := []struct {
		method balance.PaymentMethod
		amount string
	}{
		{balance.Cash, "12.34"},
		{balance.Card, "99.99"},
		{balance.Cash, "-2.34"},
		{balance.Mobile, "0.01"},
		{balance.Bank, "-250"},
		{balance.Unspecified, "3"},
	}
	want := opening
	for _, p := range postings {
		_, err := svc.Registers.PostTransaction(ctx, session.ID, p.method, dec(p.amount))
		require.NoError(t, err)
		want, err = balance.ScaleByMethod(want, p.method, dec(p.amount))
		require.NoError(t, err)
	}

	// An expense posts its payment lines as outflows.
	_, err = svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Type:              domain.TxTypeExpense,
		Amount:            dec("40"),
		RegisterSessionID: session.ID,
		Payments:          []domain.Payment{{Method: balance.Cash, Amount: dec("40")}},
	}, cashier)
	require.NoError(t, err)
	want, err = balance.ScaleByMethod(want, balance.Cash, dec("-40"))
	require.NoError(t, err)

	current, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, want, current.ExpectedBalance)
	assert.Equal(t, int64(1+len(postings)+1), current.Version)
}

func TestConcurrentPostingsLoseNothing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R10", vec(t, map[balance.PaymentMethod]string{balance.Cash: "500"}), cashier)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := saleRequest("R10", "1", "0")
			req.JournalEntries = nil
			_, err := svc.Ledger.CreateTransaction(ctx, req, cashier)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, vec(t, map[balance.PaymentMethod]string{balance.Cash: "550"}), current.ExpectedBalance)
}

// racingRepo lets another writer bump the session right before the first
// compare-and-set lands.
type racingRepo struct {
	*memory.Store
	once sync.Once
	race func()
}

func (r *racingRepo) UpdateSession(ctx context.Context, session domain.RegisterSession, expectedVersion int64) error {
	r.once.Do(r.race)
	return r.Store.UpdateSession(ctx, session, expectedVersion)
}

func TestPostRetriesAfterStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Store: memory.New()}
	svc := newTestService(t, func(d *service.Deps) { d.Repo = repo })

	session, err := svc.Registers.Open(ctx, "R11", vec(t, map[balance.PaymentMethod]string{balance.Cash: "500"}), cashier)
	require.NoError(t, err)

	repo.race = func() {
		current, err := repo.Store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		next := *current
		next.ExpectedBalance, err = balance.ScaleByMethod(current.ExpectedBalance, balance.Cash, dec("10"))
		require.NoError(t, err)
		next.Version = current.Version + 1
		require.NoError(t, repo.Store.UpdateSession(ctx, next, current.Version))
	}

	updated, err := svc.Registers.PostTransaction(ctx, session.ID, balance.Cash, dec("5"))
	require.NoError(t, err)
	assertVector(t, vec(t, map[balance.PaymentMethod]string{balance.Cash: "515"}), updated.ExpectedBalance)
	assert.Equal(t, int64(3), updated.Version)
}

func TestPostingToClosedSessionFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R12", vec(t, map[balance.PaymentMethod]string{balance.Cash: "100"}), cashier)
	require.NoError(t, err)
	closed, err := svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "90"}), cashier)
	require.NoError(t, err)

	_, err = svc.Registers.PostTransaction(ctx, session.ID, balance.Cash, dec("1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	req := saleRequest("", "10", "0")
	req.RegisterSessionID = session.ID
	_, err = svc.Ledger.CreateTransaction(ctx, req, cashier)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Ledger.CreateTransaction(ctx, saleRequest("R12", "10", "0"), cashier)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	txs, err := svc.Ledger.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)

	after, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, *closed.ClosingBalance, *after.ClosingBalance)
	assertVector(t, *closed.Discrepancies, *after.Discrepancies)
	assertVector(t, closed.ExpectedBalance, after.ExpectedBalance)
}

func TestTransactionWorkflowToSecure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Type:        domain.TxTypeIncome,
		Amount:      dec("150.00"),
		Description: "supplier rebate",
		JournalEntries: []domain.JournalEntryInput{
			{AccountType: domain.AccountBank, Amount: dec("150.00"), IsDebit: true},
			{AccountType: domain.AccountRevenue, Amount: dec("150.00"), IsDebit: false},
		},
	}, cashier)
	require.NoError(t, err)

	locked, err := svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusLocked, cashier)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusLocked, locked.Status)
	assert.Equal(t, "kasir", locked.UpdatedBy)

	description := "edited after lock"
	_, err = svc.Ledger.UpdateTransaction(ctx, tx.ID, domain.TransactionUpdateRequest{Description: &description}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusVerified, auditor)
	require.NoError(t, err)
	secured, err := svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusSecure, manager)
	require.NoError(t, err)
	assert.Equal(t, "mgr", secured.UpdatedBy)

	err = svc.Ledger.DeleteTransaction(ctx, tx.ID, admin)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSecure, stored.Status)
	assert.Equal(t, "supplier rebate", stored.Description)
	assert.Len(t, stored.JournalEntries, 2)
}

func TestOpenToSecureIsInvalidTransition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeIncome, Amount: dec("150.00")}, cashier)
	require.NoError(t, err)

	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusSecure, manager)
	var transErr *apperrors.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, "open", transErr.From)
	assert.Equal(t, "secure", transErr.To)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusOpen, stored.Status)
}

func TestOnlyListedEdgesSucceed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	paths := map[domain.TransactionStatus][]domain.TransactionStatus{
		domain.TxStatusOpen:       nil,
		domain.TxStatusLocked:     {domain.TxStatusLocked},
		domain.TxStatusVerified:   {domain.TxStatusLocked, domain.TxStatusVerified},
		domain.TxStatusSecure:     {domain.TxStatusLocked, domain.TxStatusVerified, domain.TxStatusSecure},
		domain.TxStatusUnverified: {domain.TxStatusLocked, domain.TxStatusVerified, domain.TxStatusUnverified},
	}
	allowed := map[[2]domain.TransactionStatus]bool{
		{domain.TxStatusOpen, domain.TxStatusLocked}:         true,
		{domain.TxStatusLocked, domain.TxStatusOpen}:         true,
		{domain.TxStatusLocked, domain.TxStatusVerified}:     true,
		{domain.TxStatusVerified, domain.TxStatusSecure}:     true,
		{domain.TxStatusVerified, domain.TxStatusUnverified}: true,
	}

	for from, path := range paths {
		for to := range paths {
			tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeAdjustment, Amount: dec("1")}, admin)
			require.NoError(t, err)
			for _, step := range path {
				_, err := svc.Ledger.ChangeStatus(ctx, tx.ID, step, admin)
				require.NoError(t, err)
			}

			_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, to, admin)
			stored, getErr := svc.Ledger.GetTransaction(ctx, tx.ID)
			require.NoError(t, getErr)
			if allowed[[2]domain.TransactionStatus{from, to}] {
				assert.NoErrorf(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, stored.Status)
				continue
			}
			assert.ErrorIsf(t, err, apperrors.ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, stored.Status)
		}
	}
}

func TestPermissionDeniedLeavesStateUnchanged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeSale, Amount: dec("5")}, auditor)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeSale, Amount: dec("5")}, cashier)
	require.NoError(t, err)
	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusLocked, cashier)
	require.NoError(t, err)

	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusVerified, cashier)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	err = svc.Ledger.DeleteTransaction(ctx, tx.ID, cashier)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusVerified, domain.Actor{Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusLocked, stored.Status)

	txs, err := svc.Ledger.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCreateTransactionValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Registers.Open(ctx, "R13", balance.Zero(), cashier)
	require.NoError(t, err)

	cases := map[string]domain.TransactionCreateRequest{
		"zero amount":  {Type: domain.TxTypeSale, Amount: decimal.Zero},
		"unknown type": {Type: "gift", Amount: dec("1")},
		"unbalanced": {Type: domain.TxTypeSale, Amount: dec("10"), JournalEntries: []domain.JournalEntryInput{
			{AccountType: domain.AccountCash, Amount: dec("10"), IsDebit: true},
			{AccountType: domain.AccountRevenue, Amount: dec("9"), IsDebit: false},
		}},
		"negative entry": {Type: domain.TxTypeSale, Amount: dec("10"), JournalEntries: []domain.JournalEntryInput{
			{AccountType: domain.AccountCash, Amount: dec("-10"), IsDebit: true},
		}},
		"unknown account": {Type: domain.TxTypeSale, Amount: dec("10"), JournalEntries: []domain.JournalEntryInput{
			{AccountType: "petty", Amount: dec("10"), IsDebit: true},
		}},
		"payments short": {Type: domain.TxTypeSale, Amount: dec("10"), RegisterID: "R13", Payments: []domain.Payment{
			{Method: balance.Cash, Amount: dec("9")},
		}},
		"negative sale line": {Type: domain.TxTypeSale, Amount: dec("10"), RegisterID: "R13", Payments: []domain.Payment{
			{Method: balance.Cash, Amount: dec("-10")},
		}},
		"unknown method": {Type: domain.TxTypeSale, Amount: dec("10"), RegisterID: "R13", Payments: []domain.Payment{
			{Method: "cheque", Amount: dec("10")},
		}},
		"zero transfer line": {Type: domain.TxTypeTransfer, Amount: dec("10"), RegisterID: "R13", Payments: []domain.Payment{
			{Method: balance.Cash, Amount: decimal.Zero},
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Ledger.CreateTransaction(ctx, req, cashier)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	txs, err := svc.Ledger.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	open, err := svc.Registers.GetOpen(ctx, "R13")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(open.ExpectedBalance))
}

func TestUnbalancedEntriesAllowedWhenNotEnforced(t *testing.T) {
	svc := newTestService(t, func(d *service.Deps) { d.EnforceBalancedJournal = false })

	tx, err := svc.Ledger.CreateTransaction(context.Background(), domain.TransactionCreateRequest{
		Type:   domain.TxTypeExpense,
		Amount: dec("10"),
		JournalEntries: []domain.JournalEntryInput{
			{AccountType: domain.AccountExpense, Amount: dec("10"), IsDebit: true},
		},
	}, cashier)
	require.NoError(t, err)
	assert.Len(t, tx.JournalEntries, 1)
}

func TestTransferCarriesSignedLines(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R14", vec(t, map[balance.PaymentMethod]string{balance.Cash: "500"}), cashier)
	require.NoError(t, err)

	tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Type:       domain.TxTypeTransfer,
		Amount:     dec("100"),
		RegisterID: "R14",
		Payments: []domain.Payment{
			{Method: balance.Cash, Amount: dec("-100")},
			{Method: balance.Bank, Amount: dec("100")},
		},
	}, cashier)
	require.NoError(t, err)
	require.Len(t, tx.Payments, 2)

	current, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, vec(t, map[balance.PaymentMethod]string{balance.Cash: "400", balance.Bank: "100"}), current.ExpectedBalance)
}

func TestDeleteReversesOpenSessionPostings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R15", vec(t, map[balance.PaymentMethod]string{balance.Cash: "500"}), cashier)
	require.NoError(t, err)

	tx, err := svc.Ledger.CreateTransaction(ctx, saleRequest("R15", "70", "30"), cashier)
	require.NoError(t, err)
	assert.True(t, tx.Payments[0].Amount.Equal(dec("70")))

	require.NoError(t, svc.Ledger.DeleteTransaction(ctx, tx.ID, manager))
	_, err = svc.Ledger.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	current, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assertVector(t, session.OpeningBalance, current.ExpectedBalance)

	kept, err := svc.Ledger.CreateTransaction(ctx, saleRequest("R15", "20", "0"), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "520"}), cashier)
	require.NoError(t, err)

	err = svc.Ledger.DeleteTransaction(ctx, kept.ID, manager)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
	_, err = svc.Ledger.GetTransaction(ctx, kept.ID)
	assert.NoError(t, err)

	err = svc.Ledger.DeleteTransaction(ctx, "tx-unknown", manager)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateTransactionWhileOpen(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Registers.Open(ctx, "R16", balance.Zero(), cashier)
	require.NoError(t, err)

	loose, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeIncome, Amount: dec("10")}, cashier)
	require.NoError(t, err)

	description := "  interest  "
	amount := dec("12.50")
	ref := "BANK-9"
	updated, err := svc.Ledger.UpdateTransaction(ctx, loose.ID, domain.TransactionUpdateRequest{Description: &description, Amount: &amount, ReferenceID: &ref}, cashier)
	require.NoError(t, err)
	assert.Equal(t, "interest", updated.Description)
	assert.True(t, updated.Amount.Equal(amount))
	assert.Equal(t, "BANK-9", updated.ReferenceID)

	zero := decimal.Zero
	_, err = svc.Ledger.UpdateTransaction(ctx, loose.ID, domain.TransactionUpdateRequest{Amount: &zero}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Ledger.UpdateTransaction(ctx, loose.ID, domain.TransactionUpdateRequest{Description: &description}, auditor)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	posted, err := svc.Ledger.CreateTransaction(ctx, saleRequest("R16", "10", "0"), cashier)
	require.NoError(t, err)
	_, err = svc.Ledger.UpdateTransaction(ctx, posted.ID, domain.TransactionUpdateRequest{Amount: &amount}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
	_, err = svc.Ledger.UpdateTransaction(ctx, posted.ID, domain.TransactionUpdateRequest{Description: &description}, cashier)
	assert.NoError(t, err)
}

func TestAppendJournalEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Ledger.CreateTransaction(ctx, saleRequest("", "50", "0"), cashier)
	require.NoError(t, err)

	_, err = svc.Ledger.AppendJournalEntries(ctx, tx.ID, []domain.JournalEntryInput{
		{AccountType: domain.AccountExpense, Amount: dec("2"), IsDebit: true},
	}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Ledger.AppendJournalEntries(ctx, tx.ID, nil, cashier)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	updated, err := svc.Ledger.AppendJournalEntries(ctx, tx.ID, []domain.JournalEntryInput{
		{AccountType: domain.AccountExpense, Amount: dec("2"), IsDebit: true, Description: "card fee"},
		{AccountType: domain.AccountCash, Amount: dec("2"), IsDebit: false},
	}, cashier)
	require.NoError(t, err)
	require.Len(t, updated.JournalEntries, 4)
	assert.Equal(t, "card fee", updated.JournalEntries[2].Description)
	assert.Equal(t, tx.ID, updated.JournalEntries[3].TransactionID)

	_, err = svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusLocked, cashier)
	require.NoError(t, err)
	_, err = svc.Ledger.AppendJournalEntries(ctx, tx.ID, []domain.JournalEntryInput{
		{AccountType: domain.AccountExpense, Amount: dec("1"), IsDebit: true},
		{AccountType: domain.AccountCash, Amount: dec("1"), IsDebit: false},
	}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, stored.JournalEntries, 4)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R17", vec(t, map[balance.PaymentMethod]string{balance.Cash: "10"}), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "5"}), cashier)
	require.NoError(t, err)
	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionRejected, "recount ordered", manager)
	require.NoError(t, err)

	logs, err := svc.Audit.List(ctx, domain.AuditFilter{EntityType: "register_session", EntityID: session.ID}, auditor)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "discrepancy.resolve", logs[0].Action)
	assert.Equal(t, "mgr", logs[0].ActorUsername)
	assert.Contains(t, logs[1].Detail, "discrepancy=cash=-$5.00")
	assert.Equal(t, "register.open", logs[2].Action)

	_, err = svc.Audit.List(ctx, domain.AuditFilter{}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]domain.RegisterSession
	hits  int
}

func (c *mapCache) Get(_ context.Context, id string) (*domain.RegisterSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &s, true, nil
}

func (c *mapCache) Set(_ context.Context, s domain.RegisterSession, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.ID] = s
	return nil
}

func (c *mapCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}

func TestOnlySettledSessionsAreCached(t *testing.T) {
	sessionCache := &mapCache{items: map[string]domain.RegisterSession{}}
	svc := newTestService(t, func(d *service.Deps) { d.Cache = sessionCache })
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R18", vec(t, map[balance.PaymentMethod]string{balance.Cash: "10"}), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, sessionCache.items)

	_, err = svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "12"}), cashier)
	require.NoError(t, err)
	pending, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionPending, pending.DiscrepancyResolution)
	assert.NotContains(t, sessionCache.items, session.ID, "pending sessions can still change")

	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionApproved, "", manager)
	require.NoError(t, err)

	fresh, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionApproved, fresh.DiscrepancyResolution)
	assert.Contains(t, sessionCache.items, session.ID)

	cached, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sessionCache.hits)
	assert.Equal(t, domain.ResolutionApproved, cached.DiscrepancyResolution)

	balanced, err := svc.Registers.Open(ctx, "R18b", vec(t, map[balance.PaymentMethod]string{balance.Cash: "10"}), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, balanced.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "10"}), cashier)
	require.NoError(t, err)
	assert.Contains(t, sessionCache.items, balanced.ID, "a matching count is settled at close")
}

// pausingRepo holds the first GetSession after it is armed until release is
// closed, with the record already read.
type pausingRepo struct {
	*memory.Store
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func (r *pausingRepo) GetSession(ctx context.Context, id string) (*domain.RegisterSession, error) {
	session, err := r.Store.GetSession(ctx, id)
	if r.armed.CompareAndSwap(true, false) {
		close(r.loaded)
		<-r.release
	}
	return session, err
}

func TestReadRacingResolveDoesNotCachePendingSnapshot(t *testing.T) {
	sessionCache := &mapCache{items: map[string]domain.RegisterSession{}}
	repo := &pausingRepo{Store: memory.New(), loaded: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, func(d *service.Deps) {
		d.Repo = repo
		d.Cache = sessionCache
	})
	ctx := context.Background()

	session, err := svc.Registers.Open(ctx, "R19", vec(t, map[balance.PaymentMethod]string{balance.Cash: "10"}), cashier)
	require.NoError(t, err)
	_, err = svc.Registers.Close(ctx, session.ID, vec(t, map[balance.PaymentMethod]string{balance.Cash: "7"}), cashier)
	require.NoError(t, err)

	repo.armed.Store(true)
	stale := make(chan domain.RegisterSession, 1)
	go func() {
		s, err := svc.Registers.GetByID(ctx, session.ID)
		assert.NoError(t, err)
		stale <- s
	}()

	<-repo.loaded
	_, err = svc.Discrepancies.Resolve(ctx, session.ID, domain.ResolutionEcartCaisse, "till miscount", manager)
	require.NoError(t, err)
	close(repo.release)
	assert.Equal(t, domain.ResolutionPending, (<-stale).DiscrepancyResolution)

	fresh, err := svc.Registers.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionEcartCaisse, fresh.DiscrepancyResolution)
	assert.Equal(t, domain.ResolutionEcartCaisse, sessionCache.items[session.ID].DiscrepancyResolution)
}

func TestAmountIsFrozenOnceTransactionHasPaymentLines(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Ledger.CreateTransaction(ctx, saleRequest("", "100", "0"), cashier)
	require.NoError(t, err)
	assert.Empty(t, tx.RegisterSessionID)
	require.Len(t, tx.Payments, 1)

	half := dec("50")
	_, err = svc.Ledger.UpdateTransaction(ctx, tx.ID, domain.TransactionUpdateRequest{Amount: &half}, cashier)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(dec("100")))

	same := dec("100.00")
	description := "counter sale, no till"
	updated, err := svc.Ledger.UpdateTransaction(ctx, tx.ID, domain.TransactionUpdateRequest{Amount: &same, Description: &description}, cashier)
	require.NoError(t, err)
	assert.Equal(t, description, updated.Description)
}

func TestConcurrentStatusChangesOnlyOneWins(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Ledger.CreateTransaction(ctx, domain.TransactionCreateRequest{Type: domain.TxTypeIncome, Amount: dec("5")}, cashier)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ledger.ChangeStatus(ctx, tx.ID, domain.TxStatusLocked, cashier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrInvalidTransition):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, rejected)

	stored, err := svc.Ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusLocked, stored.Status)

	logs, err := svc.Audit.List(ctx, domain.AuditFilter{EntityType: "transaction", EntityID: tx.ID}, auditor)
	require.NoError(t, err)
	statusChanges := 0
	for _, entry := range logs {
		if entry.Action == "transaction.status" {
			statusChanges++
		}
	}
	assert.Equal(t, 1, statusChanges)
}

var (
	_ store.TxRepository = (*racingRepo)(nil)
	_ store.TxRepository = (*pausingRepo)(nil)
)
