package service

import (
	"context"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

// AuditTrail reads the audit log written by every successful mutation.
type AuditTrail struct {
	*core
}

func (a *AuditTrail) List(ctx context.Context, filter domain.AuditFilter, actor domain.Actor) ([]domain.AuditLog, error) {
	if err := a.authorize(actor, authz.ViewAudit); err != nil {
		return nil, err
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	logs, err := a.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, storeErr("list audit logs", err)
	}
	return logs, nil
}
