package service

import (
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

type edge struct {
	from domain.TransactionStatus
	to   domain.TransactionStatus
}

// transitions is the complete set of allowed status edges. Any pair not
// listed here is an invalid transition.
var transitions = map[edge]authz.Capability{
	{domain.TxStatusOpen, domain.TxStatusLocked}:         authz.Lock,
	{domain.TxStatusLocked, domain.TxStatusOpen}:         authz.Unlock,
	{domain.TxStatusLocked, domain.TxStatusVerified}:     authz.Verify,
	{domain.TxStatusVerified, domain.TxStatusSecure}:     authz.Secure,
	{domain.TxStatusVerified, domain.TxStatusUnverified}: authz.Unverify,
}

// requiredCapability returns the capability guarding from -> to, or false
// when the edge does not exist.
func requiredCapability(from domain.TransactionStatus, to domain.TransactionStatus) (authz.Capability, bool) {
	c, ok := transitions[edge{from: from, to: to}]
	return c, ok
}

// deletable reports whether a transaction in status s may be removed.
func deletable(s domain.TransactionStatus) bool {
	return s != domain.TxStatusSecure
}
