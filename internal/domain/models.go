package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
)

type Role string

type Actor struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

type Resolution string

// RegisterSession is one open-to-close period of a physical register.
// Records are never deleted; every write bumps Version.
type RegisterSession struct {
	ID                    string          `json:"id"`
	RegisterID            string          `json:"register_id"`
	OpenedBy              string          `json:"opened_by"`
	ClosedBy              string          `json:"closed_by,omitempty"`
	OpenedAt              time.Time       `json:"opened_at"`
	ClosedAt              *time.Time      `json:"closed_at,omitempty"`
	OpeningBalance        balance.Vector  `json:"opening_balance"`
	ExpectedBalance       balance.Vector  `json:"expected_balance"`
	ClosingBalance        *balance.Vector `json:"closing_balance,omitempty"`
	Discrepancies         *balance.Vector `json:"discrepancies,omitempty"`
	DiscrepancyResolution Resolution      `json:"discrepancy_resolution,omitempty"`
	DiscrepancyApprovedBy string          `json:"discrepancy_approved_by,omitempty"`
	DiscrepancyApprovedAt *time.Time      `json:"discrepancy_approved_at,omitempty"`
	DiscrepancyNotes      string          `json:"discrepancy_notes,omitempty"`
	Version               int64           `json:"version"`
}

func (s RegisterSession) IsOpen() bool {
	return s.ClosedAt == nil
}

// Settled reports whether no later write can change the session: it is
// closed and its count either matched or has a final resolution.
func (s RegisterSession) Settled() bool {
	if s.IsOpen() {
		return false
	}
	return s.DiscrepancyResolution.Final() || s.Discrepancies == nil || balance.IsZero(*s.Discrepancies)
}

// SessionOpenRequest and SessionCloseRequest take pointers so a missing
// balance is rejected instead of read as an all-zero count.
type SessionOpenRequest struct {
	OpeningBalance *balance.Vector `json:"opening_balance" validate:"required"`
}

type SessionCloseRequest struct {
	ClosingBalance *balance.Vector `json:"closing_balance" validate:"required"`
}

type DiscrepancyResolveRequest struct {
	Resolution Resolution `json:"resolution" validate:"required"`
	Notes      string     `json:"notes" validate:"max=1000"`
}

type TransactionType string

type TransactionStatus string

type AccountType string

// Payment is one payment-method line of a transaction. On a stored
// transaction Amount is the signed contribution posted to the register.
type Payment struct {
	Method balance.PaymentMethod `json:"method" validate:"required"`
	Amount decimal.Decimal       `json:"amount"`
}

type JournalEntry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountType   AccountType     `json:"account_type"`
	Amount        decimal.Decimal `json:"amount"`
	IsDebit       bool            `json:"is_debit"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
}

type Transaction struct {
	ID                string            `json:"id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Description       string            `json:"description"`
	ReferenceID       string            `json:"reference_id,omitempty"`
	ReferenceType     string            `json:"reference_type,omitempty"`
	BranchID          string            `json:"branch_id,omitempty"`
	RegisterSessionID string            `json:"register_session_id,omitempty"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CreatedBy         string            `json:"created_by"`
	UpdatedBy         string            `json:"updated_by,omitempty"`
	Payments          []Payment         `json:"payments"`
	JournalEntries    []JournalEntry    `json:"journal_entries"`
}

type JournalEntryInput struct {
	AccountType AccountType     `json:"account_type" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	IsDebit     bool            `json:"is_debit"`
	Description string          `json:"description" validate:"max=500"`
}

type TransactionCreateRequest struct {
	Type              TransactionType     `json:"type" validate:"required"`
	Amount            decimal.Decimal     `json:"amount"`
	Description       string              `json:"description" validate:"max=500"`
	ReferenceID       string              `json:"reference_id,omitempty" validate:"max=128"`
	ReferenceType     string              `json:"reference_type,omitempty" validate:"max=64"`
	BranchID          string              `json:"branch_id,omitempty" validate:"max=64"`
	RegisterSessionID string              `json:"register_session_id,omitempty"`
	RegisterID        string              `json:"register_id,omitempty"`
	Payments          []Payment           `json:"payments,omitempty" validate:"dive"`
	JournalEntries    []JournalEntryInput `json:"journal_entries,omitempty" validate:"dive"`
}

type TransactionUpdateRequest struct {
	Description   *string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	ReferenceID   *string          `json:"reference_id,omitempty" validate:"omitempty,max=128"`
	ReferenceType *string          `json:"reference_type,omitempty" validate:"omitempty,max=64"`
}

type JournalEntriesAppendRequest struct {
	Entries []JournalEntryInput `json:"entries" validate:"required,min=1,dive"`
}

type TransactionStatusRequest struct {
	Status TransactionStatus `json:"status" validate:"required"`
}

type TransactionFilter struct {
	Status            TransactionStatus
	Type              TransactionType
	RegisterSessionID string
	BranchID          string
	Limit             int
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     Role      `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAuditor Role = "auditor"
	RoleCashier Role = "cashier"
	RoleSystem  Role = "system"
)

const (
	ResolutionPending      Resolution = "pending"
	ResolutionApproved     Resolution = "approved"
	ResolutionRejected     Resolution = "rejected"
	ResolutionDeductSalary Resolution = "deduct_salary"
	ResolutionEcartCaisse  Resolution = "ecart_caisse"
	ResolutionAdjusted     Resolution = "adjusted"
)

const (
	TxTypeSale            TransactionType = "sale"
	TxTypeExpense         TransactionType = "expense"
	TxTypeTransfer        TransactionType = "transfer"
	TxTypeAdjustment      TransactionType = "adjustment"
	TxTypeIncome          TransactionType = "income"
	TxTypeReturnSale      TransactionType = "return_sale"
	TxTypeReturnPurchase  TransactionType = "return_purchase"
	TxTypePaymentReceived TransactionType = "payment_received"
	TxTypePaymentMade     TransactionType = "payment_made"
	TxTypeSalary          TransactionType = "salary"
	TxTypeCashIn          TransactionType = "cash_in"
	TxTypeCashOut         TransactionType = "cash_out"
)

const (
	TxStatusOpen       TransactionStatus = "open"
	TxStatusLocked     TransactionStatus = "locked"
	TxStatusVerified   TransactionStatus = "verified"
	TxStatusUnverified TransactionStatus = "unverified"
	TxStatusSecure     TransactionStatus = "secure"
)

const (
	AccountCash          AccountType = "cash"
	AccountBank          AccountType = "bank"
	AccountRevenue       AccountType = "revenue"
	AccountExpense       AccountType = "expense"
	AccountReceivable    AccountType = "accounts_receivable"
	AccountPayable       AccountType = "accounts_payable"
	AccountInventory     AccountType = "inventory"
	AccountSalaryPayable AccountType = "salary_payable"
	AccountCashOverShort AccountType = "cash_over_short"
	AccountEquity        AccountType = "equity"
	AccountOther         AccountType = "other"
)
