package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// idempotencyStore is the Redis surface the guard needs.
type idempotencyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// IdempotencyGuard deduplicates webhook deliveries by event id. Providers
// redeliver events; the processing pipeline is idempotent anyway, the guard
// just saves the work.
type IdempotencyGuard struct {
	store idempotencyStore
	ttl   time.Duration
	scope string
}

// NewIdempotencyGuard builds a guard for one provider scope.
func NewIdempotencyGuard(store idempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

func (g *IdempotencyGuard) key(eventID string) string {
	return fmt.Sprintf("webhooks:%s:%s", g.scope, eventID)
}

// CheckAndMark marks the event as seen, reporting true when it already was.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets the event so a failed processing run can be redelivered.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}
