package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/odds"
)

// InputSource provides the external observations settlement needs.
// Implementations fetch from macro and market data feeds.
type InputSource interface {
	// OutcomeFor returns the released outcome value for the event, or nil
	// when no source is configured or the release is not out yet.
	OutcomeFor(ctx context.Context, event domain.Event) (*float64, error)
	// InputsFor gathers the observations needed beyond the published value.
	InputsFor(ctx context.Context, event domain.Event) (domain.SettlementInputs, error)
}

// Archiver persists settlement reports to durable storage.
type Archiver interface {
	ArchiveSettlement(ctx context.Context, report domain.SettlementReport) error
}

// Notifier announces completed settlements to operators.
type Notifier interface {
	SettlementCompleted(ctx context.Context, report domain.SettlementReport) error
}

// SettlementService resolves locked events: it determines winners per pool,
// distributes each pool pro rata among them and finalizes every order.
type SettlementService struct {
	events   domain.EventStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	inv      domain.Invalidator
	bus      domain.SignalBus
	inputs   InputSource
	archiver Archiver
	notifier Notifier
	calc     odds.Calculator
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. inputs, archiver and
// notifier may be nil; the corresponding steps are then skipped.
func NewSettlementService(
	events domain.EventStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	inv domain.Invalidator,
	bus domain.SignalBus,
	inputs InputSource,
	archiver Archiver,
	notifier Notifier,
	calc odds.Calculator,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		events:   events,
		orders:   orders,
		audit:    audit,
		inv:      inv,
		bus:      bus,
		inputs:   inputs,
		archiver: archiver,
		notifier: notifier,
		calc:     calc,
		logger:   logger,
	}
}

// Settle resolves one event. The LOCKED to SETTLING transition is the
// settlement mutex: a second concurrent call loses the conditional update
// and returns ErrConcurrencyConflict. If any pool fails mid-way the event
// rolls back to LOCKED so a retry can pick it up; pools already applied are
// skipped on retry because their orders are terminal.
func (s *SettlementService) Settle(ctx context.Context, eventID string, inputs domain.SettlementInputs) (domain.SettlementReport, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	switch event.Status {
	case domain.EventStatusSettled:
		// Retry after success: report what was settled, touch nothing.
		return s.settledReport(ctx, event)
	case domain.EventStatusSettling:
		return domain.SettlementReport{}, fmt.Errorf("event %s is already settling: %w",
			eventID, domain.ErrConcurrencyConflict)
	case domain.EventStatusLocked:
	default:
		return domain.SettlementReport{}, fmt.Errorf("event %s is %s, not LOCKED: %w",
			eventID, event.Status, domain.ErrInvalidState)
	}
	if event.PublishedValue == nil {
		return domain.SettlementReport{}, fmt.Errorf("event %s has no published value: %w",
			eventID, domain.ErrMissingOutcome)
	}

	if err := s.events.TransitionStatus(ctx, eventID, domain.EventStatusLocked, domain.EventStatusSettling); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return domain.SettlementReport{}, fmt.Errorf("event %s claimed by another settler: %w",
				eventID, domain.ErrConcurrencyConflict)
		}
		return domain.SettlementReport{}, err
	}

	report := domain.SettlementReport{
		EventID:        event.ID,
		EventName:      event.Name,
		PublishedValue: *event.PublishedValue,
		ConsensusValue: event.ConsensusValue,
	}
	for _, pool := range event.Pools {
		poolReport, err := s.settlePool(ctx, event, pool, inputs)
		if err != nil {
			s.rollback(ctx, eventID)
			return domain.SettlementReport{}, fmt.Errorf("settle pool %s (%s): %w",
				pool.ID, pool.GameMode, err)
		}
		report.Pools = append(report.Pools, poolReport)
	}

	now := time.Now().UTC()
	if err := s.events.MarkSettled(ctx, eventID, now); err != nil {
		s.rollback(ctx, eventID)
		return domain.SettlementReport{}, err
	}
	report.SettledAt = now

	s.finish(ctx, report)
	s.logger.Info("event settled",
		slog.String("event_id", eventID),
		slog.Float64("published_value", report.PublishedValue),
		slog.Int("pools", len(report.Pools)),
	)
	return report, nil
}

// settlePool determines the winning option types for one pool, computes every
// order's terminal outcome and applies them in one transaction.
func (s *SettlementService) settlePool(ctx context.Context, event domain.Event, pool domain.Pool, inputs domain.SettlementInputs) (domain.PoolReport, error) {
	winners, err := winningTypes(event, pool, inputs)
	if err != nil {
		return domain.PoolReport{}, err
	}

	winning := make(map[string]bool, len(pool.Options))
	var winningStaked float64
	for _, opt := range pool.Options {
		for _, w := range winners {
			if opt.Type == w {
				winning[opt.ID] = true
				winningStaked += opt.TotalAmount
			}
		}
	}

	orders, err := s.orders.ListConfirmedByPool(ctx, pool.ID)
	if err != nil {
		return domain.PoolReport{}, err
	}

	distributable := s.calc.Distributable(pool.TotalAmount)
	report := domain.PoolReport{
		PoolID:        pool.ID,
		GameMode:      pool.GameMode,
		TotalAmount:   pool.TotalAmount,
		Distributable: distributable,
		WinningStaked: winningStaked,
		WinningTypes:  winners,
	}

	settlements := make([]domain.OrderSettlement, 0, len(orders))
	for _, order := range orders {
		st := domain.OrderSettlement{OrderID: order.ID, UserID: order.UserID}
		switch {
		case winningStaked == 0:
			// Nobody picked a winning bucket: every stake comes back whole,
			// the fee is waived.
			st.Status = domain.OrderStatusRefunded
			st.Winnings = order.Amount
			report.Refunded++
		case winning[order.OptionID]:
			st.Status = domain.OrderStatusWon
			st.Winnings = order.Amount / winningStaked * distributable
			report.Won++
		default:
			st.Status = domain.OrderStatusLost
			report.Lost++
		}
		settlements = append(settlements, st)
	}

	applied, err := s.orders.ApplySettlement(ctx, pool.ID, settlements, time.Now().UTC())
	if err != nil {
		return domain.PoolReport{}, err
	}
	if applied < int64(len(settlements)) {
		s.logger.Info("pool partially pre-settled",
			slog.String("pool_id", pool.ID),
			slog.Int64("applied", applied),
			slog.Int("computed", len(settlements)),
		)
	}

	seen := make(map[string]bool, len(settlements))
	for _, st := range settlements {
		if seen[st.UserID] {
			continue
		}
		seen[st.UserID] = true
		if err := s.inv.InvalidateUser(ctx, st.UserID); err != nil {
			s.logger.Warn("invalidate user", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// settledReport rebuilds the report for an already settled event from its
// stored pools and terminal orders, so a retry returns the same picture the
// original settlement did.
func (s *SettlementService) settledReport(ctx context.Context, event domain.Event) (domain.SettlementReport, error) {
	report := domain.SettlementReport{
		EventID:        event.ID,
		EventName:      event.Name,
		ConsensusValue: event.ConsensusValue,
	}
	if event.PublishedValue != nil {
		report.PublishedValue = *event.PublishedValue
	}
	if event.SettledAt != nil {
		report.SettledAt = *event.SettledAt
	}

	for _, pool := range event.Pools {
		poolReport := domain.PoolReport{
			PoolID:        pool.ID,
			GameMode:      pool.GameMode,
			TotalAmount:   pool.TotalAmount,
			Distributable: s.calc.Distributable(pool.TotalAmount),
		}

		optionType := make(map[string]string, len(pool.Options))
		for _, opt := range pool.Options {
			optionType[opt.ID] = opt.Type
		}

		orders, err := s.orders.ListSettledByPool(ctx, pool.ID)
		if err != nil {
			return domain.SettlementReport{}, err
		}
		winners := make(map[string]bool)
		for _, order := range orders {
			switch order.Status {
			case domain.OrderStatusWon:
				poolReport.Won++
				poolReport.WinningStaked += order.Amount
				winners[optionType[order.OptionID]] = true
			case domain.OrderStatusLost:
				poolReport.Lost++
			case domain.OrderStatusRefunded:
				poolReport.Refunded++
			}
		}
		for t := range winners {
			poolReport.WinningTypes = append(poolReport.WinningTypes, t)
		}
		sort.Strings(poolReport.WinningTypes)

		report.Pools = append(report.Pools, poolReport)
	}
	return report, nil
}

// winningTypes maps the observed outcome to the winning option type tags for
// a pool's mode. It returns an empty slice, not an error, when no option
// matches; that pool then refunds.
func winningTypes(event domain.Event, pool domain.Pool, inputs domain.SettlementInputs) ([]string, error) {
	switch pool.GameMode {
	case domain.GameModeDataSniper:
		return []string{sniperOutcome(*event.PublishedValue, event.ConsensusValue, event.Tolerance)}, nil
	case domain.GameModeVolatilityHunter:
		if inputs.VolatilityPct == nil {
			return nil, fmt.Errorf("volatility observation: %w", domain.ErrMissingOutcome)
		}
		return []string{volatilityOutcome(*inputs.VolatilityPct)}, nil
	case domain.GameModeJackpot:
		if inputs.SamplePrice == nil {
			return nil, fmt.Errorf("price sample: %w", domain.ErrMissingOutcome)
		}
		for _, opt := range pool.Options {
			if opt.Contains(*inputs.SamplePrice) {
				return []string{opt.Type}, nil
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown game mode %q: %w", pool.GameMode, domain.ErrInvalidState)
}

// sniperOutcome classifies the print against consensus within the tolerance
// band. Exactly at the band edge still counts as within.
func sniperOutcome(published, consensus, tolerance float64) string {
	diff := published - consensus
	switch {
	case math.Abs(diff) <= tolerance:
		return domain.OptionTypeNeutral
	case diff < 0:
		return domain.OptionTypeDovish
	default:
		return domain.OptionTypeHawkish
	}
}

// volatilityOutcome classifies the post-release move magnitude.
func volatilityOutcome(pct float64) string {
	abs := math.Abs(pct)
	switch {
	case abs < 2:
		return domain.OptionTypeCalm
	case abs < 5:
		return domain.OptionTypeModerate
	default:
		return domain.OptionTypeStorm
	}
}

// SettlePending settles every event that is LOCKED with a published value,
// fetching the external observations per event. Locked events past release
// without a recorded value first get their outcome resolved from the input
// source, so they settle in the same pass. One event's failure does not stop
// the batch. It returns how many events settled.
func (s *SettlementService) SettlePending(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	s.resolveOutcomes(ctx, now)

	events, err := s.events.ListSettleable(ctx, now)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, event := range events {
		var inputs domain.SettlementInputs
		if s.inputs != nil {
			inputs, err = s.inputs.InputsFor(ctx, event)
			if err != nil {
				s.logger.Error("settlement inputs",
					slog.String("event_id", event.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		if _, err := s.Settle(ctx, event.ID, inputs); err != nil {
			s.logger.Error("settle event",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}
	return settled, nil
}

// resolveOutcomes records the released value for locked events the operator
// has not published yet, when the input source has one.
func (s *SettlementService) resolveOutcomes(ctx context.Context, now time.Time) {
	if s.inputs == nil {
		return
	}
	awaiting, err := s.events.ListAwaitingOutcome(ctx, now)
	if err != nil {
		s.logger.Error("list events awaiting outcome", slog.String("error", err.Error()))
		return
	}

	for _, event := range awaiting {
		value, err := s.inputs.OutcomeFor(ctx, event)
		if err != nil {
			s.logger.Error("fetch outcome",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if value == nil {
			continue
		}
		if err := s.events.SetPublishedValue(ctx, event.ID, *value); err != nil {
			s.logger.Error("record outcome",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("outcome resolved from oracle",
			slog.String("event_id", event.ID),
			slog.Float64("value", *value),
		)
	}
}

// rollback returns a failed settlement to LOCKED so the sweeper retries it.
func (s *SettlementService) rollback(ctx context.Context, eventID string) {
	if err := s.events.TransitionStatus(ctx, eventID, domain.EventStatusSettling, domain.EventStatusLocked); err != nil {
		s.logger.Error("rollback to LOCKED",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// finish runs the best-effort post-settlement steps: cache invalidation,
// pub/sub announcement, audit, archival and notification. None of them can
// fail the settlement itself.
func (s *SettlementService) finish(ctx context.Context, report domain.SettlementReport) {
	if err := s.inv.InvalidateEvent(ctx, report.EventID); err != nil {
		s.logger.Warn("invalidate event", slog.String("error", err.Error()))
	}
	if err := s.inv.InvalidateEventList(ctx); err != nil {
		s.logger.Warn("invalidate event list", slog.String("error", err.Error()))
	}
	if err := s.inv.InvalidateLeaderboard(ctx); err != nil {
		s.logger.Warn("invalidate leaderboard", slog.String("error", err.Error()))
	}

	payload, _ := json.Marshal(report)
	if err := s.bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
		s.logger.Warn("publish settlement", slog.String("error", err.Error()))
	}

	won, lost, refunded := 0, 0, 0
	for _, p := range report.Pools {
		won += p.Won
		lost += p.Lost
		refunded += p.Refunded
	}
	if err := s.audit.Log(ctx, "event.settled", map[string]any{
		"event_id":        report.EventID,
		"published_value": report.PublishedValue,
		"won":             won,
		"lost":            lost,
		"refunded":        refunded,
	}); err != nil {
		s.logger.Warn("audit settlement", slog.String("error", err.Error()))
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveSettlement(ctx, report); err != nil {
			s.logger.Warn("archive settlement report", slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.SettlementCompleted(ctx, report); err != nil {
			s.logger.Warn("notify settlement", slog.String("error", err.Error()))
		}
	}
}
