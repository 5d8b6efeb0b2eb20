package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/apperrors"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
)

// Discrepancies records the decision taken on a closed session whose
// counted balance differed from the expected one. A decision is final:
// once a non-pending resolution is stored it cannot be replaced.
type Discrepancies struct {
	*core
}

func (d *Discrepancies) Resolve(ctx context.Context, sessionID string, resolution domain.Resolution, notes string, actor domain.Actor) (domain.RegisterSession, error) {
	if err := d.authorize(actor, authz.ApproveDiscrepancy); err != nil {
		return domain.RegisterSession{}, err
	}
	if !resolution.Final() {
		return domain.RegisterSession{}, apperrors.Validation("resolution %q is not a final decision", resolution)
	}
	notes = strings.TrimSpace(notes)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := d.repo.GetSession(ctx, sessionID)
		if err != nil {
			return domain.RegisterSession{}, storeErr("load session "+sessionID, err)
		}
		if current.IsOpen() {
			return domain.RegisterSession{}, apperrors.InvalidOperation("session %s is still open", sessionID)
		}
		if current.Discrepancies == nil || balance.IsZero(*current.Discrepancies) {
			return domain.RegisterSession{}, apperrors.InvalidOperation("session %s has no discrepancy to resolve", sessionID)
		}
		if current.DiscrepancyResolution.Final() {
			return domain.RegisterSession{}, apperrors.InvalidOperation("session %s was already resolved as %s", sessionID, current.DiscrepancyResolution)
		}
		if resolution == domain.ResolutionDeductSalary && len(current.Discrepancies.Shortage()) == 0 {
			return domain.RegisterSession{}, apperrors.Validation("deduct_salary requires a shortage on at least one payment method")
		}

		approvedAt := d.now()
		next := *current
		next.DiscrepancyResolution = resolution
		next.DiscrepancyApprovedBy = actor.Username
		next.DiscrepancyApprovedAt = &approvedAt
		next.DiscrepancyNotes = notes
		next.Version = current.Version + 1

		err = d.repo.UpdateSession(ctx, next, current.Version)
		if errors.Is(err, store.ErrStale) {
			continue
		}
		if err != nil {
			return domain.RegisterSession{}, storeErr("resolve session "+sessionID, err)
		}

		if err := d.cache.Delete(ctx, sessionID); err != nil {
			d.log.Warn("failed to invalidate cached session", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
		d.logAudit(ctx, actor, "discrepancy.resolve", "register_session", sessionID,
			fmt.Sprintf("resolution=%s,discrepancy=%s,notes=%q", resolution, current.Discrepancies.Format(d.currency), notes))
		return next, nil
	}
	return domain.RegisterSession{}, apperrors.Conflict("session %s kept changing while resolving", sessionID)
}
