package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

func TestNoopSessionCacheAlwaysMisses(t *testing.T) {
	var c SessionCache = NoopSessionCache{}
	ctx := context.Background()

	if err := c.Set(ctx, domain.RegisterSession{ID: "ses-1"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "ses-1")
	if err != nil || ok || got != nil {
		t.Fatalf("expected miss, got %v %v %v", got, ok, err)
	}
	if err := c.Delete(ctx, "ses-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRedisSessionCacheSkipsUnsettledSessions(t *testing.T) {
	// Unsettled sessions return before touching the network, so no server is needed.
	c := NewRedisSessionCache("127.0.0.1:1", "", 0)
	t.Cleanup(func() { _ = c.Close() })

	closedAt := time.Now().UTC()
	shortage, err := balance.Of(map[balance.PaymentMethod]decimal.Decimal{balance.Cash: decimal.NewFromInt(-5)})
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	sessions := []domain.RegisterSession{
		{ID: "ses-open"},
		{ID: "ses-pending", ClosedAt: &closedAt, Discrepancies: &shortage, DiscrepancyResolution: domain.ResolutionPending},
	}
	for _, session := range sessions {
		if err := c.Set(context.Background(), session, time.Minute); err != nil {
			t.Fatalf("%s should be skipped, got %v", session.ID, err)
		}
	}
}

func TestSessionKeyIsNamespaced(t *testing.T) {
	if got := sessionKey("ses-42"); got != "fie:session:ses-42" {
		t.Fatalf("unexpected key %q", got)
	}
}
