package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists events with their pools and options.
type EventStore interface {
	// Create inserts the event together with its pools and options.
	Create(ctx context.Context, event Event) error
	// GetByID loads the event with its full pool/option tree.
	GetByID(ctx context.Context, id string) (Event, error)
	// GetOption resolves an option and its owning pool.
	GetOption(ctx context.Context, optionID string) (Option, Pool, error)
	// ListUpcoming returns OPEN/BETTING events releasing at or after now,
	// soonest first, with pools and options.
	ListUpcoming(ctx context.Context, now time.Time, opts ListOpts) ([]Event, error)
	// ListSettleable returns LOCKED events whose release time has passed
	// and whose published value is set.
	ListSettleable(ctx context.Context, now time.Time) ([]Event, error)
	// ListAwaitingOutcome returns LOCKED events whose release time has
	// passed but whose published value is not recorded yet.
	ListAwaitingOutcome(ctx context.Context, now time.Time) ([]Event, error)
	// TransitionStatus moves the event from one status to another. It is a
	// conditional update: ErrInvalidState if the event is not currently in
	// the from status, ErrNotFound if it does not exist.
	TransitionStatus(ctx context.Context, id string, from, to EventStatus) error
	// LockDue moves every BETTING event whose lock time has passed to
	// LOCKED and returns how many were locked.
	LockDue(ctx context.Context, now time.Time) (int64, error)
	// SetPublishedValue records the released outcome value.
	SetPublishedValue(ctx context.Context, id string, value float64) error
	// MarkSettled finalizes a SETTLING event with its settlement time.
	MarkSettled(ctx context.Context, id string, at time.Time) error
	// UpdateOptionBucket rewrites an option's name and type tag; used to
	// materialize jackpot price ranges before betting opens.
	UpdateOptionBucket(ctx context.Context, optionID, name, typeTag string) error
}

// OrderSettlement is the computed terminal outcome for one order, applied
// atomically per pool by OrderStore.ApplySettlement.
type OrderSettlement struct {
	OrderID  string
	UserID   string
	Status   OrderStatus // WON, LOST or REFUNDED
	Winnings float64
}

// OrderStore persists stakes and performs the money-mutating transactions.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// SumActiveByUserEvent returns the PENDING+CONFIRMED stake total for a
	// user on an event; the exposure-cap check reads this.
	SumActiveByUserEvent(ctx context.Context, userID, eventID string) (float64, error)
	// Confirm atomically moves a PENDING order to CONFIRMED with its
	// confirmation token, increments the owning option and pool totals, and
	// upserts the user's stats. ErrDuplicateConfirmation if the token is
	// already attached to a CONFIRMED order; ErrInvalidState if the order is
	// no longer PENDING.
	Confirm(ctx context.Context, orderID, txHash string, at time.Time) (Order, error)
	// Cancel voids a PENDING order. Cancelled orders never touched pool
	// totals, so no compensation is needed.
	Cancel(ctx context.Context, orderID string, at time.Time) error
	// ListConfirmedByPool returns the CONFIRMED orders under a pool's
	// options.
	ListConfirmedByPool(ctx context.Context, poolID string) ([]Order, error)
	// ListSettledByPool returns the terminally settled orders (WON, LOST,
	// REFUNDED) under a pool's options.
	ListSettledByPool(ctx context.Context, poolID string) ([]Order, error)
	// ApplySettlement applies the computed outcomes for one pool in a single
	// transaction, skipping orders that are already terminal so retries are
	// idempotent. It returns how many orders it transitioned.
	ApplySettlement(ctx context.Context, poolID string, settlements []OrderSettlement, at time.Time) (int64, error)
	// ListByUser returns the user's orders, newest first, with the total
	// count for pagination. status filters when non-nil.
	ListByUser(ctx context.Context, userID string, status *OrderStatus, opts ListOpts) ([]Order, int64, error)
}

// LeaderboardEntry is one row of the winnings leaderboard.
type LeaderboardEntry struct {
	UserID        string
	Address       string
	Username      string
	TotalBets     int
	TotalWinnings float64
	WinRate       float64
}

// UserStore persists users and their running stats.
type UserStore interface {
	GetOrCreate(ctx context.Context, address, username, avatar string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	UpdateProfile(ctx context.Context, id, username, avatar string) (User, error)
	GetStats(ctx context.Context, userID string) (UserStats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of money-mutating operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
