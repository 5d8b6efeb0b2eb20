package cache

import (
	"context"
	"time"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

// SessionCache holds read snapshots of settled register sessions. Open
// sessions and closed ones awaiting a resolution can still change and are
// never cached.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*domain.RegisterSession, bool, error)
	Set(ctx context.Context, session domain.RegisterSession, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

type NoopSessionCache struct{}

func (NoopSessionCache) Get(_ context.Context, _ string) (*domain.RegisterSession, bool, error) {
	return nil, false, nil
}

func (NoopSessionCache) Set(_ context.Context, _ domain.RegisterSession, _ time.Duration) error {
	return nil
}

func (NoopSessionCache) Delete(_ context.Context, _ string) error {
	return nil
}

func sessionKey(sessionID string) string {
	return "fie:session:" + sessionID
}
