package domain

import (
	"context"
	"time"
)

// View cache key builders. Readers and the invalidator both build keys
// through these helpers so they cannot drift apart.
func KeyEventList() string { return "events:upcoming" }

func KeyEvent(eventID string) string { return "event:" + eventID }

func KeyUserStats(userID string) string { return "user:" + userID + ":stats" }

func KeyUserPortfolio(userID string) string { return "user:" + userID + ":portfolio" }

func KeyLeaderboard() string { return "leaderboard" }

// Pub/sub channels published by the engine. The WebSocket hub relays them to
// connected clients as re-fetch hints.
const (
	ChannelOdds       = "ch:odds"       // pool totals changed on an event
	ChannelEvent      = "ch:event"      // event status changed
	ChannelSettlement = "ch:settlement" // an event finished settling
)

// ReadCache is a byte-payload read-through cache for rendered views.
// A miss is reported as ErrNotFound.
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Invalidator is the cache-invalidation contract: after any mutation to pool
// totals, order status or user aggregates the engine signals the affected key
// scopes. Consumers re-fetch on next read; nothing is pushed.
type Invalidator interface {
	InvalidateEventList(ctx context.Context) error
	InvalidateEvent(ctx context.Context, eventID string) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateLeaderboard(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// the lock is already held by another party.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out for odds and settlement updates.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
