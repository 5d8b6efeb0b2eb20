package memory

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
)

// Store keeps every record in process memory. A single RWMutex guards the
// state; WithTx holds the write lock for the whole unit of work and restores
// a snapshot when fn fails.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	sessionsByID     map[string]domain.RegisterSession
	openSessionByReg map[string]string
	transactionsByID map[string]domain.Transaction
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{st: &state{
		sessionsByID:     make(map[string]domain.RegisterSession),
		openSessionByReg: make(map[string]string),
		transactionsByID: make(map[string]domain.Transaction),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}}
}

// NewSeeded returns a store with one account per role for dev/demo mode.
// Passwords come from SEED_<ROLE>_PASSWORD, falling back to "<role>123".
func NewSeeded() *Store {
	s := New()
	s.st.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	warned := false
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleAuditor, domain.RoleCashier} {
		key := "SEED_" + strings.ToUpper(string(role)) + "_PASSWORD"
		password := os.Getenv(key)
		if password == "" {
			password = string(role) + "123"
			if !warned {
				slog.Warn("memory store: using default dev credentials; set SEED_<ROLE>_PASSWORD to override")
				warned = true
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("memory store: failed to hash seed password", slog.String("role", string(role)), slog.String("error", err.Error()))
			continue
		}
		users[string(role)] = domain.UserAccount{
			Username:  string(role),
			Password:  string(hash),
			Role:      role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func (s *Store) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) CreateSession(_ context.Context, session domain.RegisterSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createSession(session)
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getSession(id)
}

func (s *Store) GetOpenSession(_ context.Context, registerID string) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getOpenSession(registerID)
}

func (s *Store) ListSessions(_ context.Context, registerID string, limit int) ([]domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listSessions(registerID, limit), nil
}

func (s *Store) UpdateSession(_ context.Context, session domain.RegisterSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateSession(session, expectedVersion)
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createTransaction(tx)
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTransaction(id)
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listTransactions(filter), nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateTransactionStatus(id, from, to, by, at)
}

func (s *Store) UpdateTransactionDetails(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateTransactionDetails(tx)
}

func (s *Store) AddJournalEntries(_ context.Context, transactionID string, entries []domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.addJournalEntries(transactionID, entries)
}

func (s *Store) DeleteTransaction(_ context.Context, id string, expected domain.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteTransaction(id, expected)
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.auditLogs = append(s.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listAuditLogs(filter), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createUser(user)
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listUsers(), nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateUserPassword(username, password)
}

func (st *state) clone() *state {
	return &state{
		sessionsByID:     maps.Clone(st.sessionsByID),
		openSessionByReg: maps.Clone(st.openSessionByReg),
		transactionsByID: maps.Clone(st.transactionsByID),
		auditLogs:        slices.Clone(st.auditLogs),
		usersByUsername:  maps.Clone(st.usersByUsername),
	}
}

func (st *state) createSession(session domain.RegisterSession) error {
	if _, exists := st.sessionsByID[session.ID]; exists {
		return store.ErrDuplicate
	}
	if session.IsOpen() {
		if _, exists := st.openSessionByReg[session.RegisterID]; exists {
			return store.ErrDuplicate
		}
		st.openSessionByReg[session.RegisterID] = session.ID
	}
	st.sessionsByID[session.ID] = cloneSession(session)
	return nil
}

func (st *state) getSession(id string) (*domain.RegisterSession, error) {
	session, ok := st.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSession(session)
	return &out, nil
}

func (st *state) getOpenSession(registerID string) (*domain.RegisterSession, error) {
	id, ok := st.openSessionByReg[registerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.getSession(id)
}

func (st *state) listSessions(registerID string, limit int) []domain.RegisterSession {
	out := make([]domain.RegisterSession, 0, 16)
	for _, session := range st.sessionsByID {
		if registerID != "" && session.RegisterID != registerID {
			continue
		}
		out = append(out, cloneSession(session))
	}
	slices.SortFunc(out, func(a, b domain.RegisterSession) int {
		if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (st *state) updateSession(session domain.RegisterSession, expectedVersion int64) error {
	current, ok := st.sessionsByID[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrStale
	}
	if !current.IsOpen() && session.IsOpen() {
		return store.ErrStale
	}
	if current.IsOpen() && !session.IsOpen() {
		delete(st.openSessionByReg, current.RegisterID)
	}
	st.sessionsByID[session.ID] = cloneSession(session)
	return nil
}

func (st *state) createTransaction(tx domain.Transaction) error {
	if _, exists := st.transactionsByID[tx.ID]; exists {
		return store.ErrDuplicate
	}
	st.transactionsByID[tx.ID] = cloneTransaction(tx)
	return nil
}

func (st *state) getTransaction(id string) (*domain.Transaction, error) {
	tx, ok := st.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (st *state) listTransactions(filter domain.TransactionFilter) []domain.Transaction {
	out := make([]domain.Transaction, 0, 32)
	for _, tx := range st.transactionsByID {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.RegisterSessionID != "" && tx.RegisterSessionID != filter.RegisterSessionID {
			continue
		}
		if filter.BranchID != "" && tx.BranchID != filter.BranchID {
			continue
		}
		header := tx
		header.Payments = nil
		header.JournalEntries = nil
		out = append(out, header)
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (st *state) updateTransactionStatus(id string, from domain.TransactionStatus, to domain.TransactionStatus, by string, at time.Time) error {
	tx, ok := st.transactionsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != from {
		return store.ErrStale
	}
	tx.Status = to
	tx.UpdatedBy = by
	tx.UpdatedAt = at
	st.transactionsByID[id] = tx
	return nil
}

func (st *state) updateTransactionDetails(next domain.Transaction) error {
	tx, ok := st.transactionsByID[next.ID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != domain.TxStatusOpen {
		return store.ErrStale
	}
	tx.Description = next.Description
	tx.Amount = next.Amount
	tx.ReferenceID = next.ReferenceID
	tx.ReferenceType = next.ReferenceType
	tx.UpdatedBy = next.UpdatedBy
	tx.UpdatedAt = next.UpdatedAt
	st.transactionsByID[next.ID] = tx
	return nil
}

func (st *state) addJournalEntries(transactionID string, entries []domain.JournalEntry) error {
	tx, ok := st.transactionsByID[transactionID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != domain.TxStatusOpen {
		return store.ErrStale
	}
	tx.JournalEntries = append(slices.Clone(tx.JournalEntries), entries...)
	st.transactionsByID[transactionID] = tx
	return nil
}

func (st *state) deleteTransaction(id string, expected domain.TransactionStatus) error {
	tx, ok := st.transactionsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != expected {
		return store.ErrStale
	}
	delete(st.transactionsByID, id)
	return nil
}

func (st *state) listAuditLogs(filter domain.AuditFilter) []domain.AuditLog {
	out := make([]domain.AuditLog, 0, 32)
	for i := len(st.auditLogs) - 1; i >= 0; i-- {
		entry := st.auditLogs[i]
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && entry.EntityID != filter.EntityID {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func (st *state) createUser(user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := st.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	st.usersByUsername[user.Username] = user
	return nil
}

func (st *state) listUsers() []domain.UserAccount {
	users := make([]domain.UserAccount, 0, len(st.usersByUsername))
	for _, u := range st.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users
}

func (st *state) updateUserPassword(username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, ok := st.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	st.usersByUsername[username] = user
	return nil
}

func cloneSession(src domain.RegisterSession) domain.RegisterSession {
	out := src
	out.ClosingBalance = cloneVector(src.ClosingBalance)
	out.Discrepancies = cloneVector(src.Discrepancies)
	out.ClosedAt = cloneTime(src.ClosedAt)
	out.DiscrepancyApprovedAt = cloneTime(src.DiscrepancyApprovedAt)
	return out
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	out := src
	out.Payments = slices.Clone(src.Payments)
	out.JournalEntries = slices.Clone(src.JournalEntries)
	return out
}

func cloneVector(v *balance.Vector) *balance.Vector {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
