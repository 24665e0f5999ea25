package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/odds"
)

// testEnv wires every service against the in-memory fakes.
type testEnv struct {
	events  *memEventStore
	orders  *memOrderStore
	users   *memUserStore
	audit   *memAuditStore
	cache   *memCache
	limiter *memLimiter
	locks   *memLocks
	bus     *memBus

	eventSvc *EventService
	betSvc   *BetService
	userSvc  *UserService
}

var testPolicy = BetPolicy{
	MinStake:         10,
	MaxStake:         10_000,
	MaxEventExposure: 50_000,
	PlaceRatePerSec:  10,
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc := odds.NewCalculator(odds.DefaultFeeRate)

	env := &testEnv{
		events:  newMemEventStore(),
		users:   newMemUserStore(),
		audit:   &memAuditStore{},
		cache:   newMemCache(),
		limiter: newMemLimiter(),
		locks:   newMemLocks(),
		bus:     newMemBus(),
	}
	env.orders = newMemOrderStore(env.events, env.users)

	env.eventSvc = NewEventService(env.events, env.cache, env.cache, env.bus, calc, logger)
	env.betSvc = NewBetService(env.events, env.orders, env.audit, env.locks, env.limiter,
		env.cache, env.bus, calc, testPolicy, logger)
	env.userSvc = NewUserService(env.users, env.orders, env.events, env.cache, calc, logger)
	return env
}

func (e *testEnv) settlementSvc(inputs InputSource) *SettlementService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc := odds.NewCalculator(odds.DefaultFeeRate)
	return NewSettlementService(e.events, e.orders, e.audit, e.cache, e.bus,
		inputs, nil, nil, calc, logger)
}

// staticInputs is an InputSource returning fixed observations.
type staticInputs struct {
	inputs  domain.SettlementInputs
	outcome *float64
	err     error
}

func (s staticInputs) InputsFor(context.Context, domain.Event) (domain.SettlementInputs, error) {
	return s.inputs, s.err
}

func (s staticInputs) OutcomeFor(context.Context, domain.Event) (*float64, error) {
	return s.outcome, s.err
}

// seedEvent inserts a fully built CPI event with deterministic ids. The
// jackpot ranges are materialized around $45,000 in $500 steps.
func (e *testEnv) seedEvent(status domain.EventStatus, releaseTime time.Time) domain.Event {
	event := domain.Event{
		ID:             "evt-1",
		Name:           "US CPI YoY",
		Type:           domain.EventTypeCPI,
		ReleaseTime:    releaseTime,
		ConsensusValue: 3.2,
		Tolerance:      0.1,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}

	sniper := domain.Pool{ID: "pool-sniper", EventID: event.ID, GameMode: domain.GameModeDataSniper}
	for _, tag := range []string{domain.OptionTypeDovish, domain.OptionTypeNeutral, domain.OptionTypeHawkish} {
		sniper.Options = append(sniper.Options, domain.Option{
			ID: "opt-" + tag, PoolID: sniper.ID, Name: tag, Type: tag,
		})
	}

	vol := domain.Pool{ID: "pool-vol", EventID: event.ID, GameMode: domain.GameModeVolatilityHunter}
	for _, tag := range []string{domain.OptionTypeCalm, domain.OptionTypeModerate, domain.OptionTypeStorm} {
		vol.Options = append(vol.Options, domain.Option{
			ID: "opt-" + tag, PoolID: vol.ID, Name: tag, Type: tag,
		})
	}

	jackpot := domain.Pool{ID: "pool-jackpot", EventID: event.ID, GameMode: domain.GameModeJackpot}
	for i := 0; i < 7; i++ {
		min := int64(43_500 + i*500)
		tag := domain.RangeTag(min, min+500)
		jackpot.Options = append(jackpot.Options, domain.Option{
			ID: "opt-" + tag, PoolID: jackpot.ID, Name: tag, Type: tag,
		})
	}

	event.Pools = []domain.Pool{sniper, vol, jackpot}
	if err := e.events.Create(context.Background(), event); err != nil {
		panic(err)
	}
	return event
}

// confirmStake places and confirms a stake, returning the confirmed order.
func (e *testEnv) confirmStake(ctx context.Context, userID, optionID string, amount float64, txHash string) (domain.Order, error) {
	order, err := e.betSvc.PlaceStake(ctx, userID, "evt-1", optionID, amount)
	if err != nil {
		return domain.Order{}, err
	}
	return e.betSvc.ConfirmStake(ctx, order.ID, userID, txHash)
}

// txHash builds a syntactically valid 32-byte confirmation token from a
// single distinguishing byte.
func txHash(b byte) string {
	const hexdigits = "0123456789abcdef"
	s := make([]byte, 64)
	for i := range s {
		s[i] = '0'
	}
	s[62] = hexdigits[b>>4]
	s[63] = hexdigits[b&0x0f]
	return "0x" + string(s)
}
