package domain

var resolutions = map[Resolution]bool{
	ResolutionPending:      true,
	ResolutionApproved:     true,
	ResolutionRejected:     true,
	ResolutionDeductSalary: true,
	ResolutionEcartCaisse:  true,
	ResolutionAdjusted:     true,
}

func (r Resolution) Valid() bool {
	return resolutions[r]
}

// Final reports whether r closes the reconciliation of a session.
func (r Resolution) Final() bool {
	return r.Valid() && r != ResolutionPending
}

// Direction is the sign a transaction type applies to the register it is
// posted to: +1 money in, -1 money out, 0 when the lines carry their own sign.
func (t TransactionType) Direction() int {
	switch t {
	case TxTypeSale, TxTypeIncome, TxTypePaymentReceived, TxTypeCashIn, TxTypeReturnPurchase:
		return 1
	case TxTypeExpense, TxTypePaymentMade, TxTypeSalary, TxTypeCashOut, TxTypeReturnSale:
		return -1
	default:
		return 0
	}
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypeSale, TxTypeExpense, TxTypeTransfer, TxTypeAdjustment, TxTypeIncome,
		TxTypeReturnSale, TxTypeReturnPurchase, TxTypePaymentReceived, TxTypePaymentMade,
		TxTypeSalary, TxTypeCashIn, TxTypeCashOut:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusOpen, TxStatusLocked, TxStatusVerified, TxStatusUnverified, TxStatusSecure:
		return true
	}
	return false
}

func (a AccountType) Valid() bool {
	switch a {
	case AccountCash, AccountBank, AccountRevenue, AccountExpense, AccountReceivable,
		AccountPayable, AccountInventory, AccountSalaryPayable, AccountCashOverShort,
		AccountEquity, AccountOther:
		return true
	}
	return false
}
