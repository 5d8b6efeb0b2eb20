package store

import (
	"context"
	"errors"
	"time"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a uniqueness rule,
	// including a second open session for the same register.
	ErrDuplicate = errors.New("duplicate")
	// ErrStale is returned when a compare-and-set precondition (version or
	// status) no longer holds.
	ErrStale = errors.New("stale write")
	// ErrInvalid is returned for records the store refuses to persist.
	ErrInvalid = errors.New("invalid record")
)

type SessionStore interface {
	CreateSession(ctx context.Context, session domain.RegisterSession) error
	GetSession(ctx context.Context, id string) (*domain.RegisterSession, error)
	GetOpenSession(ctx context.Context, registerID string) (*domain.RegisterSession, error)
	ListSessions(ctx context.Context, registerID string, limit int) ([]domain.RegisterSession, error)
	// UpdateSession replaces the stored record only if its version still
	// equals expectedVersion. session.Version must already be bumped.
	UpdateSession(ctx context.Context, session domain.RegisterSession, expectedVersion int64) error
}

type TransactionStore interface {
	// CreateTransaction inserts the transaction with its payments and journal entries.
	CreateTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// ListTransactions returns headers only; payments and entries are left nil.
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, by string, at time.Time) error
	// UpdateTransactionDetails rewrites description, amount, reference and
	// update stamps while the stored status is still open.
	UpdateTransactionDetails(ctx context.Context, tx domain.Transaction) error
	AddJournalEntries(ctx context.Context, transactionID string, entries []domain.JournalEntry) error
	// DeleteTransaction removes the transaction and its children if its
	// stored status still equals expected.
	DeleteTransaction(ctx context.Context, id string, expected domain.TransactionStatus) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	SessionStore
	TransactionStore
	AuditStore
	UserStore
}

// TxRepository runs fn against a repository whose writes commit together or
// not at all. Calling WithTx on the repository handed to fn reuses the
// surrounding unit of work.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}
