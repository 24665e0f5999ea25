package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/odds"
)

// BetPolicy is the stake acceptance policy: amount bounds, the per-event
// exposure cap, and the placement rate limit.
type BetPolicy struct {
	MinStake         float64
	MaxStake         float64
	MaxEventExposure float64
	PlaceRatePerSec  int
}

// betLockTTL bounds how long a crashed placement can hold a user's
// per-event lock.
const betLockTTL = 5 * time.Second

// BetService drives orders through their lifecycle: placement, confirmation
// and cancellation.
type BetService struct {
	events  domain.EventStore
	orders  domain.OrderStore
	audit   domain.AuditStore
	locks   domain.LockManager
	limiter domain.RateLimiter
	inv     domain.Invalidator
	bus     domain.SignalBus
	calc    odds.Calculator
	policy  BetPolicy
	logger  *slog.Logger
}

// NewBetService creates a BetService with all required dependencies.
func NewBetService(
	events domain.EventStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	inv domain.Invalidator,
	bus domain.SignalBus,
	calc odds.Calculator,
	policy BetPolicy,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		events:  events,
		orders:  orders,
		audit:   audit,
		locks:   locks,
		limiter: limiter,
		inv:     inv,
		bus:     bus,
		calc:    calc,
		policy:  policy,
		logger:  logger,
	}
}

// PlaceStake validates and creates a PENDING order. The exposure-cap check
// and the insert run under a per-user-per-event lock so concurrent
// placements from the same user cannot slip past the cap together. Pool and
// option totals are untouched until confirmation.
func (s *BetService) PlaceStake(ctx context.Context, userID, eventID, optionID string, amount float64) (domain.Order, error) {
	allowed, err := s.limiter.Allow(ctx, "bets:"+userID, s.policy.PlaceRatePerSec, time.Second)
	if err != nil {
		return domain.Order{}, fmt.Errorf("bet_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("too many placements: %w", domain.ErrRateLimited)
	}

	if amount < s.policy.MinStake || amount > s.policy.MaxStake {
		return domain.Order{}, fmt.Errorf("amount %.2f outside [%.0f, %.0f]: %w",
			amount, s.policy.MinStake, s.policy.MaxStake, domain.ErrInvalidStake)
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	if event.Status != domain.EventStatusBetting {
		return domain.Order{}, fmt.Errorf("event %s is %s, not BETTING: %w",
			eventID, event.Status, domain.ErrInvalidState)
	}
	if !now.Before(event.LockTime()) {
		return domain.Order{}, fmt.Errorf("betting closed at %s: %w",
			event.LockTime().Format(time.RFC3339), domain.ErrWindowClosed)
	}

	option, pool, err := s.events.GetOption(ctx, optionID)
	if err != nil {
		return domain.Order{}, err
	}
	if pool.EventID != eventID {
		return domain.Order{}, fmt.Errorf("option %s does not belong to event %s: %w",
			optionID, eventID, domain.ErrNotFound)
	}

	// Serialize the cap read with the insert for this user/event pair.
	unlock, err := s.locks.Acquire(ctx, "bet:"+userID+":"+eventID, betLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Order{}, fmt.Errorf("another placement in flight: %w", domain.ErrConcurrencyConflict)
		}
		return domain.Order{}, fmt.Errorf("bet_service: acquire lock: %w", err)
	}
	defer unlock()

	staked, err := s.orders.SumActiveByUserEvent(ctx, userID, eventID)
	if err != nil {
		return domain.Order{}, err
	}
	if staked+amount > s.policy.MaxEventExposure {
		return domain.Order{}, fmt.Errorf("staked %.2f of %.0f cap: %w",
			staked, s.policy.MaxEventExposure, domain.ErrLimitExceeded)
	}

	order := domain.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   eventID,
		OptionID:  option.ID,
		GameMode:  pool.GameMode,
		Amount:    amount,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidateUser(ctx, userID)
	s.logger.Info("stake placed",
		slog.String("order_id", order.ID),
		slog.String("user_id", userID),
		slog.String("event_id", eventID),
		slog.Float64("amount", amount),
	)
	return order, nil
}

// ConfirmStake attaches the on-chain confirmation token to a PENDING order
// and atomically moves its amount into the pool/option aggregates. A token
// backs at most one order ever; reuse fails with ErrDuplicateConfirmation.
func (s *BetService) ConfirmStake(ctx context.Context, orderID, userID, txHash string) (domain.Order, error) {
	if !validTxHash(txHash) {
		return domain.Order{}, fmt.Errorf("malformed confirmation token %q: %w",
			txHash, domain.ErrInvalidState)
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrOwnershipViolation)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("order %s is %s, not PENDING: %w",
			orderID, order.Status, domain.ErrInvalidState)
	}

	confirmed, err := s.orders.Confirm(ctx, orderID, txHash, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.audit.Log(ctx, "bet.confirmed", map[string]any{
		"order_id": confirmed.ID,
		"user_id":  confirmed.UserID,
		"event_id": confirmed.EventID,
		"amount":   confirmed.Amount,
		"tx_hash":  txHash,
	}); err != nil {
		s.logger.Warn("audit confirm", slog.String("error", err.Error()))
	}

	s.invalidateUser(ctx, userID)
	if err := s.inv.InvalidateEvent(ctx, confirmed.EventID); err != nil {
		s.logger.Warn("invalidate event", slog.String("error", err.Error()))
	}
	s.publishOdds(ctx, confirmed.EventID)

	s.logger.Info("stake confirmed",
		slog.String("order_id", confirmed.ID),
		slog.String("event_id", confirmed.EventID),
		slog.Float64("amount", confirmed.Amount),
	)
	return confirmed, nil
}

// validTxHash reports whether the token parses as a 32-byte hex transaction
// hash. The chain itself is not consulted; on-chain verification lives
// outside this engine.
func validTxHash(txHash string) bool {
	b, err := hexutil.Decode(txHash)
	return err == nil && len(b) == common.HashLength
}

// CancelStake voids a PENDING order owned by the caller.
func (s *BetService) CancelStake(ctx context.Context, orderID, userID string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrOwnershipViolation)
	}

	if err := s.orders.Cancel(ctx, orderID, time.Now().UTC()); err != nil {
		return err
	}

	s.invalidateUser(ctx, userID)
	s.logger.Info("stake cancelled",
		slog.String("order_id", orderID),
		slog.String("user_id", userID),
	)
	return nil
}

// OrderView is the rendered read model of one order, with live odds and the
// payout estimate a confirmed stake would earn at current totals.
type OrderView struct {
	ID                string             `json:"id"`
	EventID           string             `json:"event_id"`
	OptionID          string             `json:"option_id"`
	OptionName        string             `json:"option_name"`
	GameMode          domain.GameMode    `json:"game_mode"`
	Amount            float64            `json:"amount"`
	Status            domain.OrderStatus `json:"status"`
	TxHash            string             `json:"tx_hash,omitempty"`
	CurrentOdds       float64            `json:"current_odds"`
	EstimatedWinnings float64            `json:"estimated_winnings"`
	Winnings          float64            `json:"winnings"`
	CreatedAt         time.Time          `json:"created_at"`
	ConfirmedAt       *time.Time         `json:"confirmed_at,omitempty"`
	SettledAt         *time.Time         `json:"settled_at,omitempty"`
}

// OrderDetail returns one order's view; only the owner may read it.
func (s *BetService) OrderDetail(ctx context.Context, orderID, userID string) (OrderView, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if order.UserID != userID {
		return OrderView{}, fmt.Errorf("order %s: %w", orderID, domain.ErrOwnershipViolation)
	}
	return s.renderOrder(ctx, order), nil
}

// UserOrders returns the caller's orders, newest first, with the total for
// pagination.
func (s *BetService) UserOrders(ctx context.Context, userID string, status *domain.OrderStatus, opts domain.ListOpts) ([]OrderView, int64, error) {
	orders, total, err := s.orders.ListByUser(ctx, userID, status, opts)
	if err != nil {
		return nil, 0, err
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, s.renderOrder(ctx, o))
	}
	return views, total, nil
}

func (s *BetService) renderOrder(ctx context.Context, order domain.Order) OrderView {
	view := OrderView{
		ID:          order.ID,
		EventID:     order.EventID,
		OptionID:    order.OptionID,
		GameMode:    order.GameMode,
		Amount:      order.Amount,
		Status:      order.Status,
		TxHash:      order.TxHash,
		Winnings:    order.Winnings,
		CreatedAt:   order.CreatedAt,
		ConfirmedAt: order.ConfirmedAt,
		SettledAt:   order.SettledAt,
	}

	option, pool, err := s.events.GetOption(ctx, order.OptionID)
	if err != nil {
		// The view degrades to entity fields; odds stay zero.
		return view
	}

	view.OptionName = option.Name
	view.CurrentOdds = s.calc.Odds(pool.TotalAmount, option.TotalAmount)
	if order.Status == domain.OrderStatusConfirmed {
		view.EstimatedWinnings = order.Amount * view.CurrentOdds
	}
	return view
}

func (s *BetService) invalidateUser(ctx context.Context, userID string) {
	if err := s.inv.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("invalidate user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BetService) publishOdds(ctx context.Context, eventID string) {
	payload, _ := json.Marshal(map[string]string{"event_id": eventID})
	if err := s.bus.Publish(ctx, domain.ChannelOdds, payload); err != nil {
		s.logger.Warn("publish odds update", slog.String("error", err.Error()))
	}
}
