package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/macropool/internal/domain"
)

// ViewCache implements domain.ReadCache for rendered JSON views.
type ViewCache struct {
	rdb *redis.Client
}

// NewViewCache creates a ViewCache backed by the given Client.
func NewViewCache(c *Client) *ViewCache {
	return &ViewCache{rdb: c.Underlying()}
}

// Get returns the cached payload for key, or domain.ErrNotFound on a miss.
func (vc *ViewCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := vc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return payload, nil
}

// Set stores the payload under key with the given TTL.
func (vc *ViewCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := vc.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Invalidator implements the cache-invalidation contract by deleting the
// affected view keys. Deletion failures are returned so callers can log them;
// a stale view self-heals when its TTL expires.
type Invalidator struct {
	rdb *redis.Client
}

// NewInvalidator creates an Invalidator backed by the given Client.
func NewInvalidator(c *Client) *Invalidator {
	return &Invalidator{rdb: c.Underlying()}
}

// InvalidateEventList drops the upcoming-events view.
func (iv *Invalidator) InvalidateEventList(ctx context.Context) error {
	return iv.del(ctx, domain.KeyEventList())
}

// InvalidateEvent drops a single event's detail view and the list view that
// embeds its totals.
func (iv *Invalidator) InvalidateEvent(ctx context.Context, eventID string) error {
	return iv.del(ctx, domain.KeyEvent(eventID), domain.KeyEventList())
}

// InvalidateUser drops the user's stats and portfolio views.
func (iv *Invalidator) InvalidateUser(ctx context.Context, userID string) error {
	return iv.del(ctx, domain.KeyUserStats(userID), domain.KeyUserPortfolio(userID))
}

// InvalidateLeaderboard drops the leaderboard view.
func (iv *Invalidator) InvalidateLeaderboard(ctx context.Context) error {
	return iv.del(ctx, domain.KeyLeaderboard())
}

func (iv *Invalidator) del(ctx context.Context, keys ...string) error {
	if err := iv.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %v: %w", keys, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.ReadCache   = (*ViewCache)(nil)
	_ domain.Invalidator = (*Invalidator)(nil)
)
