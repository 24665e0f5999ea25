// Package service implements the engine's business operations on top of the
// domain store interfaces: the market and order lifecycles, settlement, and
// the user aggregates.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/odds"
)

// upcomingTTL bounds staleness of the cached event views.
const upcomingTTL = 30 * time.Second

// EventService drives events through their market lifecycle and serves the
// read-side event views.
type EventService struct {
	events domain.EventStore
	cache  domain.ReadCache
	inv    domain.Invalidator
	bus    domain.SignalBus
	calc   odds.Calculator
	logger *slog.Logger
}

// NewEventService creates an EventService with all required dependencies.
func NewEventService(
	events domain.EventStore,
	cache domain.ReadCache,
	inv domain.Invalidator,
	bus domain.SignalBus,
	calc odds.Calculator,
	logger *slog.Logger,
) *EventService {
	return &EventService{
		events: events,
		cache:  cache,
		inv:    inv,
		bus:    bus,
		calc:   calc,
		logger: logger,
	}
}

// CreateEvent registers a scheduled data release and builds its three pools
// with their option buckets. The event starts in OPEN; betting is opened
// explicitly via OpenBetting.
func (s *EventService) CreateEvent(ctx context.Context, name string, typ domain.EventType, releaseTime time.Time, consensus, tolerance float64) (domain.Event, error) {
	now := time.Now().UTC()

	event := domain.Event{
		ID:             uuid.New().String(),
		Name:           name,
		Type:           typ,
		ReleaseTime:    releaseTime,
		ConsensusValue: consensus,
		Tolerance:      tolerance,
		Status:         domain.EventStatusOpen,
		CreatedAt:      now,
	}

	for _, mode := range domain.GameModes {
		pool := domain.Pool{
			ID:        uuid.New().String(),
			EventID:   event.ID,
			GameMode:  mode,
			CreatedAt: now,
		}
		for _, b := range bucketsForMode(mode) {
			pool.Options = append(pool.Options, domain.Option{
				ID:        uuid.New().String(),
				PoolID:    pool.ID,
				Name:      b.name,
				Type:      b.typeTag,
				CreatedAt: now,
			})
		}
		event.Pools = append(event.Pools, pool)
	}

	if err := s.events.Create(ctx, event); err != nil {
		return domain.Event{}, err
	}

	s.invalidateEvent(ctx, event.ID)
	s.logger.Info("event created",
		slog.String("event_id", event.ID),
		slog.String("type", string(typ)),
		slog.Time("release_time", releaseTime),
	)
	return event, nil
}

type bucket struct {
	name    string
	typeTag string
}

// bucketsForMode returns the option buckets created for a new pool. Jackpot
// ranges start as placeholders and are materialized with concrete bounds
// before betting opens.
func bucketsForMode(mode domain.GameMode) []bucket {
	switch mode {
	case domain.GameModeDataSniper:
		return []bucket{
			{"Below consensus", domain.OptionTypeDovish},
			{"Within tolerance", domain.OptionTypeNeutral},
			{"Above consensus", domain.OptionTypeHawkish},
		}
	case domain.GameModeVolatilityHunter:
		return []bucket{
			{"Calm (<2%)", domain.OptionTypeCalm},
			{"Moderate (2-5%)", domain.OptionTypeModerate},
			{"Storm (>=5%)", domain.OptionTypeStorm},
		}
	case domain.GameModeJackpot:
		buckets := make([]bucket, 0, 7)
		for i := 1; i <= 7; i++ {
			buckets = append(buckets, bucket{
				name:    fmt.Sprintf("Range %d", i),
				typeTag: fmt.Sprintf("RANGE_%d", i),
			})
		}
		return buckets
	}
	return nil
}

// MaterializeRanges replaces the jackpot pool's placeholder buckets with
// seven disjoint [min, max) price ranges centered on the reference price.
// Only allowed before betting opens.
func (s *EventService) MaterializeRanges(ctx context.Context, eventID string, centerPrice, rangeWidth float64) error {
	if centerPrice <= 0 || rangeWidth <= 0 {
		return fmt.Errorf("center price and range width must be positive: %w", domain.ErrInvalidState)
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != domain.EventStatusOpen {
		return fmt.Errorf("event %s is %s, ranges can only be set while OPEN: %w",
			eventID, event.Status, domain.ErrInvalidState)
	}

	var jackpot *domain.Pool
	for i := range event.Pools {
		if event.Pools[i].GameMode == domain.GameModeJackpot {
			jackpot = &event.Pools[i]
			break
		}
	}
	if jackpot == nil {
		return fmt.Errorf("event %s has no jackpot pool: %w", eventID, domain.ErrNotFound)
	}

	// Seven contiguous ranges with the center price in the middle bucket.
	width := int64(rangeWidth)
	start := int64(centerPrice) - width*7/2
	for i, opt := range jackpot.Options {
		min := start + int64(i)*width
		max := min + width
		name := fmt.Sprintf("$%d - $%d", min, max)
		if err := s.events.UpdateOptionBucket(ctx, opt.ID, name, domain.RangeTag(min, max)); err != nil {
			return err
		}
	}

	s.invalidateEvent(ctx, eventID)
	return nil
}

// OpenBetting transitions the event from OPEN to BETTING.
func (s *EventService) OpenBetting(ctx context.Context, eventID string) error {
	if err := s.events.TransitionStatus(ctx, eventID,
		domain.EventStatusOpen, domain.EventStatusBetting); err != nil {
		return err
	}
	s.invalidateEvent(ctx, eventID)
	s.publishStatus(ctx, eventID, domain.EventStatusBetting)
	return nil
}

// Lock closes the betting window explicitly, ahead of the automatic sweep.
func (s *EventService) Lock(ctx context.Context, eventID string) error {
	if err := s.events.TransitionStatus(ctx, eventID,
		domain.EventStatusBetting, domain.EventStatusLocked); err != nil {
		return err
	}
	s.invalidateEvent(ctx, eventID)
	s.publishStatus(ctx, eventID, domain.EventStatusLocked)
	return nil
}

// LockDue locks every BETTING event whose lock time has passed. Called by
// the sweeper; also safe to invoke ad hoc.
func (s *EventService) LockDue(ctx context.Context) (int64, error) {
	n, err := s.events.LockDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("locked due events", slog.Int64("count", n))
		if err := s.inv.InvalidateEventList(ctx); err != nil {
			s.logger.Warn("invalidate event list", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// PublishOutcome records the released value for an event. Settlement
// requires it; publishing is idempotent and may be corrected until the
// event settles.
func (s *EventService) PublishOutcome(ctx context.Context, eventID string, value float64) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status == domain.EventStatusSettling || event.Status == domain.EventStatusSettled {
		return fmt.Errorf("event %s is %s, outcome can no longer change: %w",
			eventID, event.Status, domain.ErrInvalidState)
	}

	if err := s.events.SetPublishedValue(ctx, eventID, value); err != nil {
		return err
	}

	s.invalidateEvent(ctx, eventID)
	s.logger.Info("outcome published",
		slog.String("event_id", eventID),
		slog.Float64("value", value),
	)
	return nil
}

// CanBet reports whether the event currently accepts stakes.
func (s *EventService) CanBet(ctx context.Context, eventID string) (bool, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return false, err
	}
	return event.CanBet(time.Now().UTC()), nil
}

// EventView is the rendered read model of an event: entity fields plus live
// odds and the countdown to release.
type EventView struct {
	ID             string                                 `json:"id"`
	Name           string                                 `json:"name"`
	Type           domain.EventType                       `json:"type"`
	ReleaseTime    time.Time                              `json:"release_time"`
	ConsensusValue float64                                `json:"consensus_value"`
	PublishedValue *float64                               `json:"published_value,omitempty"`
	Tolerance      float64                                `json:"tolerance"`
	Status         domain.EventStatus                     `json:"status"`
	SettledAt      *time.Time                             `json:"settled_at,omitempty"`
	CountdownSec   int64                                  `json:"countdown_sec"`
	Pools          []PoolView                             `json:"pools"`
	Odds           map[domain.GameMode]map[string]float64 `json:"odds"`
}

// PoolView renders one pool with its options.
type PoolView struct {
	ID          string          `json:"id"`
	GameMode    domain.GameMode `json:"game_mode"`
	TotalAmount float64         `json:"total_amount"`
	Options     []OptionView    `json:"options"`
}

// OptionView renders one option bucket.
type OptionView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	TotalAmount float64 `json:"total_amount"`
	Odds        float64 `json:"odds"`
}

func (s *EventService) renderEvent(event domain.Event, now time.Time) EventView {
	view := EventView{
		ID:             event.ID,
		Name:           event.Name,
		Type:           event.Type,
		ReleaseTime:    event.ReleaseTime,
		ConsensusValue: event.ConsensusValue,
		PublishedValue: event.PublishedValue,
		Tolerance:      event.Tolerance,
		Status:         event.Status,
		SettledAt:      event.SettledAt,
		Odds:           s.calc.EventOdds(event),
	}

	if countdown := event.ReleaseTime.Sub(now); countdown > 0 {
		view.CountdownSec = int64(countdown.Seconds())
	}

	for _, pool := range event.Pools {
		pv := PoolView{
			ID:          pool.ID,
			GameMode:    pool.GameMode,
			TotalAmount: pool.TotalAmount,
		}
		for _, opt := range pool.Options {
			pv.Options = append(pv.Options, OptionView{
				ID:          opt.ID,
				Name:        opt.Name,
				Type:        opt.Type,
				TotalAmount: opt.TotalAmount,
				Odds:        s.calc.Odds(pool.TotalAmount, opt.TotalAmount),
			})
		}
		view.Pools = append(view.Pools, pv)
	}
	return view
}

// Upcoming returns the upcoming-events view, cached for a short TTL.
func (s *EventService) Upcoming(ctx context.Context, opts domain.ListOpts) ([]EventView, error) {
	key := domain.KeyEventList()
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var views []EventView
		if err := json.Unmarshal(payload, &views); err == nil {
			return views, nil
		}
		// Corrupt cache entry: fall through to the store.
	}

	now := time.Now().UTC()
	events, err := s.events.ListUpcoming(ctx, now, opts)
	if err != nil {
		return nil, err
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, s.renderEvent(e, now))
	}

	if payload, err := json.Marshal(views); err == nil {
		if err := s.cache.Set(ctx, key, payload, upcomingTTL); err != nil {
			s.logger.Warn("cache upcoming events", slog.String("error", err.Error()))
		}
	}
	return views, nil
}

// Detail returns one event's view, cached for a short TTL.
func (s *EventService) Detail(ctx context.Context, eventID string) (EventView, error) {
	key := domain.KeyEvent(eventID)
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var view EventView
		if err := json.Unmarshal(payload, &view); err == nil {
			// Countdown is rendered at cache time; refresh it for the reader.
			if remaining := time.Until(view.ReleaseTime); remaining > 0 {
				view.CountdownSec = int64(remaining.Seconds())
			} else {
				view.CountdownSec = 0
			}
			return view, nil
		}
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return EventView{}, err
	}

	view := s.renderEvent(event, time.Now().UTC())
	if payload, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, key, payload, upcomingTTL); err != nil {
			s.logger.Warn("cache event detail", slog.String("error", err.Error()))
		}
	}
	return view, nil
}

func (s *EventService) invalidateEvent(ctx context.Context, eventID string) {
	if err := s.inv.InvalidateEvent(ctx, eventID); err != nil {
		s.logger.Warn("invalidate event",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EventService) publishStatus(ctx context.Context, eventID string, status domain.EventStatus) {
	payload, _ := json.Marshal(map[string]string{
		"event_id": eventID,
		"status":   string(status),
	})
	if err := s.bus.Publish(ctx, domain.ChannelEvent, payload); err != nil {
		s.logger.Warn("publish event status", slog.String("error", err.Error()))
	}
}
