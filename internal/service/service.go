// Package service implements the register session lifecycle, discrepancy
// reconciliation and the transaction ledger. Every call takes the acting
// user explicitly; nothing is read from ambient state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/apperrors"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/authz"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/cache"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/xid"
)

// maxCASAttempts bounds the re-read/re-write loop on a stale session version.
const maxCASAttempts = 8

type Deps struct {
	Repo     store.TxRepository
	Gate     authz.Gate
	Cache    cache.SessionCache
	CacheTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	// Currency is the ISO code used when amounts are rendered into audit details.
	Currency string
	// EnforceBalancedJournal rejects journal entries whose debits and
	// credits differ.
	EnforceBalancedJournal bool
}

type Service struct {
	Registers     *Registers
	Discrepancies *Discrepancies
	Ledger        *Ledger
	Audit         *AuditTrail
}

func New(deps Deps) *Service {
	c := newCore(deps)
	registers := &Registers{core: c}
	return &Service{
		Registers:     registers,
		Discrepancies: &Discrepancies{core: c},
		Ledger:        &Ledger{core: c, registers: registers, enforceBalanced: deps.EnforceBalancedJournal},
		Audit:         &AuditTrail{core: c},
	}
}

type core struct {
	repo     store.TxRepository
	gate     authz.Gate
	cache    cache.SessionCache
	cacheTTL time.Duration
	log      *slog.Logger
	now      func() time.Time
	currency string
}

func newCore(deps Deps) *core {
	c := &core{
		repo:     deps.Repo,
		gate:     deps.Gate,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		log:      deps.Logger,
		now:      deps.Now,
		currency: deps.Currency,
	}
	if c.gate == nil {
		c.gate = authz.DefaultTable()
	}
	if c.cache == nil {
		c.cache = cache.NoopSessionCache{}
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = 10 * time.Minute
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.currency == "" {
		c.currency = "USD"
	}
	return c
}

func (c *core) authorize(actor domain.Actor, capability authz.Capability) error {
	if c.gate.HasPermission(actor, capability) {
		return nil
	}
	c.log.Warn("permission denied",
		slog.String("actor", actor.Username),
		slog.String("role", string(actor.Role)),
		slog.String("capability", string(capability)))
	return &apperrors.PermissionError{Actor: actor.Username, Role: string(actor.Role), Capability: string(capability)}
}

// logAudit is best effort: a failed audit write never fails the operation
// it describes.
func (c *core) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: domain.RoleSystem}
	}

	if err := c.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     c.now(),
	}); err != nil {
		c.log.Warn("failed to write audit log",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.String("error", err.Error()))
	}
}

// storeErr translates a store sentinel into the service error taxonomy.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("%s: record not found", op)
	case errors.Is(err, store.ErrDuplicate):
		return apperrors.Conflict("%s: duplicate record", op)
	case errors.Is(err, store.ErrStale):
		return apperrors.Conflict("%s: record changed concurrently", op)
	case errors.Is(err, store.ErrInvalid):
		return apperrors.Validation("%s: record rejected by store", op)
	default:
		return apperrors.Persistence(op, err)
	}
}

// txErr keeps errors already typed inside a unit of work and wraps the rest.
func txErr(op string, err error) error {
	if err == nil || apperrors.IsClientError(err) || errors.Is(err, apperrors.ErrPersistence) {
		return err
	}
	return storeErr(op, err)
}
