package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/apperrors"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/xid"
)

// Registers manages register sessions: open, post, close.
type Registers struct {
	*core
}

func (r *Registers) Open(ctx context.Context, registerID string, opening balance.Vector, actor domain.Actor) (domain.RegisterSession, error) {
	if err := r.authorize(actor, authz.OpenRegister); err != nil {
		return domain.RegisterSession{}, err
	}

	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		return domain.RegisterSession{}, apperrors.Validation("register id is required")
	}
	if opening.HasNegative() {
		return domain.RegisterSession{}, apperrors.Validation("opening balance cannot be negative")
	}

	session := domain.RegisterSession{
		ID:              xid.New("ses"),
		RegisterID:      registerID,
		OpenedBy:        actor.Username,
		OpenedAt:        r.now(),
		OpeningBalance:  opening,
		ExpectedBalance: opening,
		Version:         1,
	}
	if err := r.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.RegisterSession{}, apperrors.Conflict("register %s already has an open session", registerID)
		}
		return domain.RegisterSession{}, storeErr("open session", err)
	}

	r.logAudit(ctx, actor, "register.open", "register_session", session.ID,
		fmt.Sprintf("register=%s,opening=%s", registerID, opening.Format(r.currency)))
	return session, nil
}

// PostTransaction adds signedAmount to the expected balance of method on an
// open session. The new vector is written with a compare-and-set on the
// session version and the read is repeated when another writer got there
// first, so concurrent postings never overwrite each other.
func (r *Registers) PostTransaction(ctx context.Context, sessionID string, method balance.PaymentMethod, signedAmount decimal.Decimal) (domain.RegisterSession, error) {
	return r.post(ctx, r.repo, sessionID, method, signedAmount)
}

func (r *Registers) post(ctx context.Context, repo store.Repository, sessionID string, method balance.PaymentMethod, signedAmount decimal.Decimal) (domain.RegisterSession, error) {
	if !method.Valid() {
		return domain.RegisterSession{}, apperrors.Validation("unknown payment method %q", method)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := repo.GetSession(ctx, sessionID)
		if err != nil {
			return domain.RegisterSession{}, storeErr("load session "+sessionID, err)
		}
		if !current.IsOpen() {
			return domain.RegisterSession{}, apperrors.NotFound("no open session %s", sessionID)
		}

		next := *current
		next.ExpectedBalance, err = balance.ScaleByMethod(current.ExpectedBalance, method, signedAmount)
		if err != nil {
			return domain.RegisterSession{}, apperrors.Validation("%v", err)
		}
		next.Version = current.Version + 1

		err = repo.UpdateSession(ctx, next, current.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrStale) {
			return domain.RegisterSession{}, storeErr("post to session "+sessionID, err)
		}
		r.log.Debug("session version moved, retrying post",
			slog.String("session_id", sessionID),
			slog.Int("attempt", attempt+1))
	}
	return domain.RegisterSession{}, apperrors.Conflict("session %s kept changing while posting", sessionID)
}

// Close freezes the counted balance and the signed discrepancy
// (closing - expected). A nonzero discrepancy leaves the session pending
// reconciliation.
func (r *Registers) Close(ctx context.Context, sessionID string, closing balance.Vector, actor domain.Actor) (domain.RegisterSession, error) {
	if err := r.authorize(actor, authz.CloseRegister); err != nil {
		return domain.RegisterSession{}, err
	}
	if closing.HasNegative() {
		return domain.RegisterSession{}, apperrors.Validation("closing balance cannot be negative")
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := r.repo.GetSession(ctx, sessionID)
		if err != nil {
			return domain.RegisterSession{}, storeErr("load session "+sessionID, err)
		}
		if !current.IsOpen() {
			return domain.RegisterSession{}, apperrors.Conflict("session %s is already closed", sessionID)
		}

		closedAt := r.now()
		counted := closing
		discrepancies := balance.Subtract(closing, current.ExpectedBalance)

		next := *current
		next.ClosedAt = &closedAt
		next.ClosedBy = actor.Username
		next.ClosingBalance = &counted
		next.Discrepancies = &discrepancies
		if !balance.IsZero(discrepancies) {
			next.DiscrepancyResolution = domain.ResolutionPending
		}
		next.Version = current.Version + 1

		err = r.repo.UpdateSession(ctx, next, current.Version)
		if errors.Is(err, store.ErrStale) {
			continue
		}
		if err != nil {
			return domain.RegisterSession{}, storeErr("close session "+sessionID, err)
		}

		if next.Settled() {
			if err := r.cache.Set(ctx, next, r.cacheTTL); err != nil {
				r.log.Warn("failed to cache closed session", slog.String("session_id", sessionID), slog.String("error", err.Error()))
			}
		}
		r.logAudit(ctx, actor, "register.close", "register_session", sessionID,
			fmt.Sprintf("register=%s,closing=%s,discrepancy=%s", next.RegisterID, closing.Format(r.currency), discrepancies.Format(r.currency)))
		return next, nil
	}
	return domain.RegisterSession{}, apperrors.Conflict("session %s kept changing while closing", sessionID)
}

// GetByID serves settled sessions from the cache when possible. A session
// still awaiting a resolution is never cached: a read racing Resolve could
// otherwise put the pending snapshot back after Resolve invalidated it.
func (r *Registers) GetByID(ctx context.Context, sessionID string) (domain.RegisterSession, error) {
	if cached, ok, err := r.cache.Get(ctx, sessionID); err != nil {
		r.log.Warn("session cache read failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	} else if ok {
		return *cached, nil
	}

	session, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.RegisterSession{}, storeErr("load session "+sessionID, err)
	}
	if session.Settled() {
		if err := r.cache.Set(ctx, *session, r.cacheTTL); err != nil {
			r.log.Warn("failed to cache closed session", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
	return *session, nil
}

func (r *Registers) GetOpen(ctx context.Context, registerID string) (domain.RegisterSession, error) {
	session, err := r.repo.GetOpenSession(ctx, strings.TrimSpace(registerID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RegisterSession{}, apperrors.NotFound("register %s has no open session", registerID)
		}
		return domain.RegisterSession{}, storeErr("load open session", err)
	}
	return *session, nil
}

func (r *Registers) List(ctx context.Context, registerID string, limit int) ([]domain.RegisterSession, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	sessions, err := r.repo.ListSessions(ctx, strings.TrimSpace(registerID), limit)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	return sessions, nil
}
