package domain

import "time"

// OrderStatus tracks a stake through its lifecycle. WON, LOST, REFUNDED and
// CANCELLED are terminal; terminal orders are never mutated again.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"   // created, not yet funded
	OrderStatusConfirmed OrderStatus = "CONFIRMED" // funded, counted in pool totals
	OrderStatusWon       OrderStatus = "WON"
	OrderStatusLost      OrderStatus = "LOST"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusWon, OrderStatusLost, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is one user's stake on one option. The amount counts toward the
// user's per-event exposure cap from creation (while PENDING) but only joins
// the pool/option aggregates on confirmation.
type Order struct {
	ID       string
	UserID   string
	EventID  string
	OptionID string
	GameMode GameMode // denormalized from the option's pool
	Amount   float64
	Status   OrderStatus
	TxHash   string // confirmation token; unique among CONFIRMED orders
	Winnings float64

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	SettledAt   *time.Time
}
