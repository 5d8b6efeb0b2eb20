package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

const transactionSelect = `
	SELECT id, type, amount, description, reference_id, reference_type, branch_id,
		register_session_id, status, created_at, updated_at, created_by, updated_by
	FROM transactions`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx                                   domain.Transaction
		referenceID, referenceType, branchID nullString
		sessionID, updatedBy                 nullString
		createdAt, updatedAt                 timeDest
	)
	err := row.Scan(
		&tx.ID,
		&tx.Type,
		&tx.Amount,
		&tx.Description,
		&referenceID,
		&referenceType,
		&branchID,
		&sessionID,
		&tx.Status,
		&createdAt,
		&updatedAt,
		&tx.CreatedBy,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}
	tx.ReferenceID = string(referenceID)
	tx.ReferenceType = string(referenceType)
	tx.BranchID = string(branchID)
	tx.RegisterSessionID = string(sessionID)
	tx.UpdatedBy = string(updatedBy)
	tx.CreatedAt = createdAt.Time
	tx.UpdatedAt = updatedAt.Time
	return &tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	return s.atomic(ctx, func(q querier) error {
		_, err := s.exec(ctx, q, `
			INSERT INTO transactions (
				id, type, amount, description, reference_id, reference_type, branch_id,
				register_session_id, status, created_at, updated_at, created_by, updated_by
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, tx.ID, string(tx.Type), tx.Amount, tx.Description, nullIfEmpty(tx.ReferenceID), nullIfEmpty(tx.ReferenceType),
			nullIfEmpty(tx.BranchID), nullIfEmpty(tx.RegisterSessionID), string(tx.Status),
			s.dialect.timeValue(tx.CreatedAt), s.dialect.timeValue(tx.UpdatedAt), tx.CreatedBy, nullIfEmpty(tx.UpdatedBy))
		if err != nil {
			return err
		}

		for i, payment := range tx.Payments {
			if _, err := s.exec(ctx, q, `
				INSERT INTO transaction_payments (transaction_id, position, method, amount)
				VALUES ($1,$2,$3,$4)
			`, tx.ID, i, string(payment.Method), payment.Amount); err != nil {
				return err
			}
		}
		return s.insertEntries(ctx, q, tx.ID, 0, tx.JournalEntries)
	})
}

func (s *Store) insertEntries(ctx context.Context, q querier, transactionID string, offset int, entries []domain.JournalEntry) error {
	for i, entry := range entries {
		_, err := s.exec(ctx, q, `
			INSERT INTO journal_entries (
				id, transaction_id, position, account_type, amount, is_debit, description, created_at, created_by
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, entry.ID, transactionID, offset+i, string(entry.AccountType), entry.Amount, entry.IsDebit,
			nullIfEmpty(entry.Description), s.dialect.timeValue(entry.CreatedAt), entry.CreatedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.queryRow(ctx, transactionSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if tx.Payments, err = s.listPayments(ctx, id); err != nil {
		return nil, err
	}
	if tx.JournalEntries, err = s.listEntries(ctx, id); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) listPayments(ctx context.Context, transactionID string) ([]domain.Payment, error) {
	rows, err := s.query(ctx, `
		SELECT method, amount
		FROM transaction_payments
		WHERE transaction_id = $1
		ORDER BY position ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.Method, &p.Amount); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) listEntries(ctx context.Context, transactionID string) ([]domain.JournalEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, transaction_id, account_type, amount, is_debit, description, created_at, created_by
		FROM journal_entries
		WHERE transaction_id = $1
		ORDER BY position ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.JournalEntry, 0, 4)
	for rows.Next() {
		var (
			entry       domain.JournalEntry
			description nullString
			createdAt   timeDest
		)
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountType, &entry.Amount,
			&entry.IsDebit, &description, &createdAt, &entry.CreatedBy); err != nil {
			return nil, err
		}
		entry.Description = string(description)
		entry.CreatedAt = createdAt.Time
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(filter.Status))
	add("type", string(filter.Type))
	add("register_session_id", filter.RegisterSessionID)
	add("branch_id", filter.BranchID)

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	query := transactionSelect
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, by string, at time.Time) error {
	affected, err := s.exec(ctx, s.q, `
		UPDATE transactions
		SET status = $3, updated_by = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), by, s.dialect.timeValue(at))
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.casMiss(ctx, s.q, "transactions", id)
	}
	return nil
}

func (s *Store) UpdateTransactionDetails(ctx context.Context, tx domain.Transaction) error {
	affected, err := s.exec(ctx, s.q, `
		UPDATE transactions
		SET description = $3, amount = $4, reference_id = $5, reference_type = $6, updated_by = $7, updated_at = $8
		WHERE id = $1 AND status = $2
	`, tx.ID, string(domain.TxStatusOpen), tx.Description, tx.Amount, nullIfEmpty(tx.ReferenceID),
		nullIfEmpty(tx.ReferenceType), tx.UpdatedBy, s.dialect.timeValue(tx.UpdatedAt))
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.casMiss(ctx, s.q, "transactions", tx.ID)
	}
	return nil
}

func (s *Store) AddJournalEntries(ctx context.Context, transactionID string, entries []domain.JournalEntry) error {
	return s.atomic(ctx, func(q querier) error {
		// Touching the header under the open-status guard serializes
		// appends against concurrent status changes.
		affected, err := s.exec(ctx, q, `
			UPDATE transactions SET status = status WHERE id = $1 AND status = $2
		`, transactionID, string(domain.TxStatusOpen))
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.casMiss(ctx, q, "transactions", transactionID)
		}

		var count int
		if err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM journal_entries WHERE transaction_id = $1`), transactionID).Scan(&count); err != nil {
			return err
		}
		return s.insertEntries(ctx, q, transactionID, count, entries)
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, id string, expected domain.TransactionStatus) error {
	return s.atomic(ctx, func(q querier) error {
		affected, err := s.exec(ctx, q, `DELETE FROM transactions WHERE id = $1 AND status = $2`, id, string(expected))
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.casMiss(ctx, q, "transactions", id)
		}
		if _, err := s.exec(ctx, q, `DELETE FROM journal_entries WHERE transaction_id = $1`, id); err != nil {
			return err
		}
		_, err = s.exec(ctx, q, `DELETE FROM transaction_payments WHERE transaction_id = $1`, id)
		return err
	})
}
