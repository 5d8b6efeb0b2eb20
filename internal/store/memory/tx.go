package memory

import (
	"context"
	"time"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
)

// txView is the repository handed to a WithTx callback. The owning Store
// already holds the write lock, so the view touches state directly.
type txView struct {
	st *state
}

func (v *txView) WithTx(_ context.Context, fn func(repo store.Repository) error) error {
	return fn(v)
}

func (v *txView) CreateSession(_ context.Context, session domain.RegisterSession) error {
	return v.st.createSession(session)
}

func (v *txView) GetSession(_ context.Context, id string) (*domain.RegisterSession, error) {
	return v.st.getSession(id)
}

func (v *txView) GetOpenSession(_ context.Context, registerID string) (*domain.RegisterSession, error) {
	return v.st.getOpenSession(registerID)
}

func (v *txView) ListSessions(_ context.Context, registerID string, limit int) ([]domain.RegisterSession, error) {
	return v.st.listSessions(registerID, limit), nil
}

func (v *txView) UpdateSession(_ context.Context, session domain.RegisterSession, expectedVersion int64) error {
	return v.st.updateSession(session, expectedVersion)
}

func (v *txView) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	return v.st.createTransaction(tx)
}

func (v *txView) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	return v.st.getTransaction(id)
}

func (v *txView) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return v.st.listTransactions(filter), nil
}

func (v *txView) UpdateTransactionStatus(_ context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, by string, at time.Time) error {
	return v.st.updateTransactionStatus(id, from, to, by, at)
}

func (v *txView) UpdateTransactionDetails(_ context.Context, tx domain.Transaction) error {
	return v.st.updateTransactionDetails(tx)
}

func (v *txView) AddJournalEntries(_ context.Context, transactionID string, entries []domain.JournalEntry) error {
	return v.st.addJournalEntries(transactionID, entries)
}

func (v *txView) DeleteTransaction(_ context.Context, id string, expected domain.TransactionStatus) error {
	return v.st.deleteTransaction(id, expected)
}

func (v *txView) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	v.st.auditLogs = append(v.st.auditLogs, entry)
	return nil
}

func (v *txView) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	return v.st.listAuditLogs(filter), nil
}

func (v *txView) CreateUser(_ context.Context, user domain.UserAccount) error {
	return v.st.createUser(user)
}

func (v *txView) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return v.st.listUsers(), nil
}

func (v *txView) UpdateUserPassword(_ context.Context, username string, password string) error {
	return v.st.updateUserPassword(username, password)
}
