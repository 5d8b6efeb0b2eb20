package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/apperrors"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/xid"
)

// Ledger owns financial transactions, their journal entries and their
// status workflow.
type Ledger struct {
	*core
	registers       *Registers
	enforceBalanced bool
}

func (l *Ledger) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest, actor domain.Actor) (domain.Transaction, error) {
	if err := l.authorize(actor, authz.CreateTransaction); err != nil {
		return domain.Transaction{}, err
	}
	if !req.Type.Valid() {
		return domain.Transaction{}, apperrors.Validation("unknown transaction type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.Transaction{}, apperrors.Validation("amount must be greater than zero")
	}
	if err := validateEntries(req.JournalEntries); err != nil {
		return domain.Transaction{}, err
	}
	if err := l.checkBalanced(req.JournalEntries); err != nil {
		return domain.Transaction{}, err
	}
	payments, err := signedPayments(req.Type, req.Amount, req.Payments)
	if err != nil {
		return domain.Transaction{}, err
	}

	now := l.now()
	tx := domain.Transaction{
		ID:                xid.New("tx"),
		Type:              req.Type,
		Amount:            req.Amount,
		Description:       strings.TrimSpace(req.Description),
		ReferenceID:       strings.TrimSpace(req.ReferenceID),
		ReferenceType:     strings.TrimSpace(req.ReferenceType),
		BranchID:          strings.TrimSpace(req.BranchID),
		RegisterSessionID: strings.TrimSpace(req.RegisterSessionID),
		Status:            domain.TxStatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
		CreatedBy:         actor.Username,
		Payments:          payments,
	}
	tx.JournalEntries = newEntries(tx.ID, req.JournalEntries, actor, now)
	registerID := strings.TrimSpace(req.RegisterID)

	err = l.repo.WithTx(ctx, func(repo store.Repository) error {
		if tx.RegisterSessionID == "" && registerID != "" {
			open, err := repo.GetOpenSession(ctx, registerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return apperrors.NotFound("register %s has no open session", registerID)
				}
				return storeErr("load open session", err)
			}
			tx.RegisterSessionID = open.ID
		}
		if tx.RegisterSessionID != "" {
			for _, p := range tx.Payments {
				if _, err := l.registers.post(ctx, repo, tx.RegisterSessionID, p.Method, p.Amount); err != nil {
					return err
				}
			}
		}
		return storeErr("create transaction", repo.CreateTransaction(ctx, tx))
	})
	if err != nil {
		return domain.Transaction{}, txErr("create transaction", err)
	}

	l.logAudit(ctx, actor, "transaction.create", "transaction", tx.ID,
		fmt.Sprintf("type=%s,amount=%s,session=%s,entries=%d", tx.Type, tx.Amount.StringFixed(2), tx.RegisterSessionID, len(tx.JournalEntries)))
	return tx, nil
}

// ChangeStatus moves a transaction along one edge of the status table. The
// edge is checked before the capability, and the write only lands if the
// stored status is still the one that was read.
func (l *Ledger) ChangeStatus(ctx context.Context, transactionID string, target domain.TransactionStatus, actor domain.Actor) (domain.Transaction, error) {
	if !target.Valid() {
		return domain.Transaction{}, apperrors.Validation("unknown status %q", target)
	}

	current, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, storeErr("load transaction "+transactionID, err)
	}
	capability, ok := requiredCapability(current.Status, target)
	if !ok {
		return domain.Transaction{}, &apperrors.TransitionError{From: string(current.Status), To: string(target)}
	}
	if err := l.authorize(actor, capability); err != nil {
		return domain.Transaction{}, err
	}

	now := l.now()
	if err := l.repo.UpdateTransactionStatus(ctx, transactionID, current.Status, target, actor.Username, now); err != nil {
		if errors.Is(err, store.ErrStale) {
			return domain.Transaction{}, apperrors.Conflict("transaction %s changed status concurrently", transactionID)
		}
		return domain.Transaction{}, storeErr("change status of "+transactionID, err)
	}

	updated := *current
	updated.Status = target
	updated.UpdatedAt = now
	updated.UpdatedBy = actor.Username
	l.logAudit(ctx, actor, "transaction.status", "transaction", transactionID,
		fmt.Sprintf("from=%s,to=%s", current.Status, target))
	return updated, nil
}

// UpdateTransaction edits descriptive fields while the transaction is open.
// The amount is frozen once the transaction carries payment lines, posted
// or not, so the lines keep adding up to it.
func (l *Ledger) UpdateTransaction(ctx context.Context, transactionID string, patch domain.TransactionUpdateRequest, actor domain.Actor) (domain.Transaction, error) {
	if err := l.authorize(actor, authz.EditTransaction); err != nil {
		return domain.Transaction{}, err
	}

	current, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, storeErr("load transaction "+transactionID, err)
	}
	if current.Status != domain.TxStatusOpen {
		return domain.Transaction{}, apperrors.InvalidOperation("transaction %s is %s; only open transactions can be edited", transactionID, current.Status)
	}

	next := *current
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.ReferenceID != nil {
		next.ReferenceID = strings.TrimSpace(*patch.ReferenceID)
	}
	if patch.ReferenceType != nil {
		next.ReferenceType = strings.TrimSpace(*patch.ReferenceType)
	}
	if patch.Amount != nil && !patch.Amount.Equal(current.Amount) {
		if !patch.Amount.IsPositive() {
			return domain.Transaction{}, apperrors.Validation("amount must be greater than zero")
		}
		if len(current.Payments) > 0 {
			return domain.Transaction{}, apperrors.InvalidOperation("transaction %s has payment lines; its amount cannot change", transactionID)
		}
		next.Amount = *patch.Amount
	}
	next.UpdatedAt = l.now()
	next.UpdatedBy = actor.Username

	if err := l.repo.UpdateTransactionDetails(ctx, next); err != nil {
		if errors.Is(err, store.ErrStale) {
			return domain.Transaction{}, apperrors.InvalidOperation("transaction %s is no longer open", transactionID)
		}
		return domain.Transaction{}, storeErr("update transaction "+transactionID, err)
	}

	l.logAudit(ctx, actor, "transaction.update", "transaction", transactionID,
		fmt.Sprintf("amount=%s,description=%q", next.Amount.StringFixed(2), next.Description))
	return next, nil
}

// AppendJournalEntries adds legs to an open transaction. With balancing
// enforced, the full entry set must still balance afterwards.
func (l *Ledger) AppendJournalEntries(ctx context.Context, transactionID string, inputs []domain.JournalEntryInput, actor domain.Actor) (domain.Transaction, error) {
	if err := l.authorize(actor, authz.EditTransaction); err != nil {
		return domain.Transaction{}, err
	}
	if len(inputs) == 0 {
		return domain.Transaction{}, apperrors.Validation("at least one journal entry is required")
	}
	if err := validateEntries(inputs); err != nil {
		return domain.Transaction{}, err
	}

	current, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, storeErr("load transaction "+transactionID, err)
	}
	if current.Status != domain.TxStatusOpen {
		return domain.Transaction{}, apperrors.InvalidOperation("transaction %s is %s; entries can only be added while open", transactionID, current.Status)
	}

	combined := make([]domain.JournalEntryInput, 0, len(current.JournalEntries)+len(inputs))
	for _, e := range current.JournalEntries {
		combined = append(combined, domain.JournalEntryInput{AccountType: e.AccountType, Amount: e.Amount, IsDebit: e.IsDebit})
	}
	combined = append(combined, inputs...)
	if err := l.checkBalanced(combined); err != nil {
		return domain.Transaction{}, err
	}

	entries := newEntries(transactionID, inputs, actor, l.now())
	if err := l.repo.AddJournalEntries(ctx, transactionID, entries); err != nil {
		if errors.Is(err, store.ErrStale) {
			return domain.Transaction{}, apperrors.InvalidOperation("transaction %s is no longer open", transactionID)
		}
		return domain.Transaction{}, storeErr("append journal entries to "+transactionID, err)
	}

	next := *current
	next.JournalEntries = append(append([]domain.JournalEntry(nil), current.JournalEntries...), entries...)
	l.logAudit(ctx, actor, "transaction.entries", "transaction", transactionID, fmt.Sprintf("added=%d", len(entries)))
	return next, nil
}

// DeleteTransaction removes a non-secure transaction together with its
// entries and payment lines. Postings to a still-open session are reversed
// in the same unit of work; once that session is closed its counted
// figures are frozen and the transaction can no longer be removed.
func (l *Ledger) DeleteTransaction(ctx context.Context, transactionID string, actor domain.Actor) error {
	var deleted domain.Transaction
	err := l.repo.WithTx(ctx, func(repo store.Repository) error {
		current, err := repo.GetTransaction(ctx, transactionID)
		if err != nil {
			return storeErr("load transaction "+transactionID, err)
		}
		if !deletable(current.Status) {
			return apperrors.InvalidOperation("transaction %s is secure and cannot be deleted", transactionID)
		}
		if err := l.authorize(actor, authz.DeleteTransaction); err != nil {
			return err
		}

		if current.RegisterSessionID != "" && len(current.Payments) > 0 {
			session, err := repo.GetSession(ctx, current.RegisterSessionID)
			if err != nil {
				return storeErr("load session "+current.RegisterSessionID, err)
			}
			if !session.IsOpen() {
				return apperrors.InvalidOperation("transaction %s was posted to closed session %s", transactionID, session.ID)
			}
			for _, p := range current.Payments {
				if _, err := l.registers.post(ctx, repo, session.ID, p.Method, p.Amount.Neg()); err != nil {
					return err
				}
			}
		}

		if err := repo.DeleteTransaction(ctx, transactionID, current.Status); err != nil {
			if errors.Is(err, store.ErrStale) {
				return apperrors.Conflict("transaction %s changed status concurrently", transactionID)
			}
			return storeErr("delete transaction "+transactionID, err)
		}
		deleted = *current
		return nil
	})
	if err != nil {
		return txErr("delete transaction", err)
	}

	l.logAudit(ctx, actor, "transaction.delete", "transaction", transactionID,
		fmt.Sprintf("type=%s,amount=%s,status=%s", deleted.Type, deleted.Amount.StringFixed(2), deleted.Status))
	return nil
}

func (l *Ledger) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, storeErr("load transaction "+transactionID, err)
	}
	return *tx, nil
}

func (l *Ledger) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("unknown status %q", filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperrors.Validation("unknown transaction type %q", filter.Type)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	out, err := l.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	return out, nil
}

func (l *Ledger) checkBalanced(entries []domain.JournalEntryInput) error {
	if !l.enforceBalanced || len(entries) == 0 {
		return nil
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.IsDebit {
			debit = debit.Add(e.Amount)
		} else {
			credit = credit.Add(e.Amount)
		}
	}
	if !debit.Equal(credit) {
		return apperrors.Validation("journal entries do not balance: debit %s, credit %s", debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

func validateEntries(entries []domain.JournalEntryInput) error {
	for i, e := range entries {
		if !e.AccountType.Valid() {
			return apperrors.Validation("entry %d: unknown account type %q", i, e.AccountType)
		}
		if !e.Amount.IsPositive() {
			return apperrors.Validation("entry %d: amount must be greater than zero", i)
		}
	}
	return nil
}

func newEntries(transactionID string, inputs []domain.JournalEntryInput, actor domain.Actor, at time.Time) []domain.JournalEntry {
	entries := make([]domain.JournalEntry, 0, len(inputs))
	for _, in := range inputs {
		entries = append(entries, domain.JournalEntry{
			ID:            xid.New("je"),
			TransactionID: transactionID,
			AccountType:   in.AccountType,
			Amount:        in.Amount,
			IsDebit:       in.IsDebit,
			Description:   strings.TrimSpace(in.Description),
			CreatedAt:     at,
			CreatedBy:     actor.Username,
		})
	}
	return entries
}

// signedPayments applies the direction of txType to the payment lines.
// Directional types take positive lines that add up to amount; neutral
// types (transfer, adjustment) keep the sign each line was given.
func signedPayments(txType domain.TransactionType, amount decimal.Decimal, lines []domain.Payment) ([]domain.Payment, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	direction := txType.Direction()
	out := make([]domain.Payment, 0, len(lines))
	total := decimal.Zero
	for i, p := range lines {
		if !p.Method.Valid() {
			return nil, apperrors.Validation("payment %d: unknown payment method %q", i, p.Method)
		}
		if direction == 0 {
			if p.Amount.IsZero() {
				return nil, apperrors.Validation("payment %d: amount cannot be zero", i)
			}
			out = append(out, p)
			continue
		}
		if !p.Amount.IsPositive() {
			return nil, apperrors.Validation("payment %d: amount must be greater than zero", i)
		}
		total = total.Add(p.Amount)
		out = append(out, domain.Payment{Method: p.Method, Amount: p.Amount.Mul(decimal.NewFromInt(int64(direction)))})
	}
	if direction != 0 && !total.Equal(amount) {
		return nil, apperrors.Validation("payments add up to %s but the transaction amount is %s", total.StringFixed(2), amount.StringFixed(2))
	}
	return out, nil
}
