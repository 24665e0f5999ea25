package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/macropool/internal/domain"
)

func ptr(v float64) *float64 { return &v }

// lockAndPublish closes the betting window and records the released value so
// the event becomes settleable.
func lockAndPublish(t *testing.T, env *testEnv, value float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.events.TransitionStatus(ctx, "evt-1",
		domain.EventStatusBetting, domain.EventStatusLocked))
	require.NoError(t, env.events.SetPublishedValue(ctx, "evt-1", value))
}

func TestSettleDataSniperPayouts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	// Consensus 3.2, tolerance 0.1: a 3.35 print lands above the band.
	a, err := env.confirmStake(ctx, "user-1", "opt-HAWKISH", 500, txHash(1))
	require.NoError(t, err)
	b, err := env.confirmStake(ctx, "user-2", "opt-HAWKISH", 1_500, txHash(2))
	require.NoError(t, err)
	c, err := env.confirmStake(ctx, "user-3", "opt-DOVISH", 8_000, txHash(3))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)

	svc := env.settlementSvc(nil)
	report, err := svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	require.NoError(t, err)
	assert.Equal(t, 3.35, report.PublishedValue)

	// Pool 10,000, distributable 9,700, winners staked 2,000.
	gotA, _ := env.orders.GetByID(ctx, a.ID)
	assert.Equal(t, domain.OrderStatusWon, gotA.Status)
	assert.InDelta(t, 2_425, gotA.Winnings, 1e-9)

	gotB, _ := env.orders.GetByID(ctx, b.ID)
	assert.Equal(t, domain.OrderStatusWon, gotB.Status)
	assert.InDelta(t, 7_275, gotB.Winnings, 1e-9)

	gotC, _ := env.orders.GetByID(ctx, c.ID)
	assert.Equal(t, domain.OrderStatusLost, gotC.Status)
	assert.Zero(t, gotC.Winnings)

	event, _ := env.events.GetByID(ctx, "evt-1")
	assert.Equal(t, domain.EventStatusSettled, event.Status)
	require.NotNil(t, event.SettledAt)
}

func TestSettleSniperBandEdges(t *testing.T) {
	assert.Equal(t, domain.OptionTypeNeutral, sniperOutcome(3.3, 3.2, 0.1))
	assert.Equal(t, domain.OptionTypeNeutral, sniperOutcome(3.1, 3.2, 0.1))
	assert.Equal(t, domain.OptionTypeHawkish, sniperOutcome(3.31, 3.2, 0.1))
	assert.Equal(t, domain.OptionTypeDovish, sniperOutcome(3.09, 3.2, 0.1))
}

func TestVolatilityBucketBoundaries(t *testing.T) {
	assert.Equal(t, domain.OptionTypeCalm, volatilityOutcome(1.99))
	assert.Equal(t, domain.OptionTypeModerate, volatilityOutcome(2))
	assert.Equal(t, domain.OptionTypeModerate, volatilityOutcome(4.99))
	assert.Equal(t, domain.OptionTypeStorm, volatilityOutcome(5))
	// Direction does not matter, only magnitude.
	assert.Equal(t, domain.OptionTypeStorm, volatilityOutcome(-6))
}

func TestSettleJackpotRanges(t *testing.T) {
	cases := []struct {
		price  float64
		winner string
	}{
		{45_250, domain.RangeTag(45_000, 45_500)},
		{44_999, domain.RangeTag(44_500, 45_000)},
		{45_000, domain.RangeTag(45_000, 45_500)}, // lower bound inclusive
		{46_000, domain.RangeTag(46_000, 46_500)}, // upper bound exclusive
	}

	for _, tc := range cases {
		env := newTestEnv()
		ctx := context.Background()
		env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

		winner, err := env.confirmStake(ctx, "user-1", "opt-"+tc.winner, 1_000, txHash(1))
		require.NoError(t, err)
		loser, err := env.confirmStake(ctx, "user-2", "opt-"+domain.RangeTag(43_500, 44_000), 1_000, txHash(2))
		require.NoError(t, err)

		lockAndPublish(t, env, 3.2)

		svc := env.settlementSvc(nil)
		_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{
			VolatilityPct: ptr(1.0),
			SamplePrice:   ptr(tc.price),
		})
		require.NoError(t, err, "price %.0f", tc.price)

		gotW, _ := env.orders.GetByID(ctx, winner.ID)
		assert.Equal(t, domain.OrderStatusWon, gotW.Status, "price %.0f", tc.price)
		gotL, _ := env.orders.GetByID(ctx, loser.ID)
		assert.Equal(t, domain.OrderStatusLost, gotL.Status, "price %.0f", tc.price)
	}
}

func TestSettleZeroWinnerRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	// Everyone picked DOVISH; the print goes the other way.
	a, err := env.confirmStake(ctx, "user-1", "opt-DOVISH", 500, txHash(1))
	require.NoError(t, err)
	b, err := env.confirmStake(ctx, "user-2", "opt-DOVISH", 2_500, txHash(2))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)

	svc := env.settlementSvc(nil)
	report, err := svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	require.NoError(t, err)

	// Refunds are whole stakes; the fee is not taken.
	gotA, _ := env.orders.GetByID(ctx, a.ID)
	assert.Equal(t, domain.OrderStatusRefunded, gotA.Status)
	assert.Equal(t, 500.0, gotA.Winnings)
	gotB, _ := env.orders.GetByID(ctx, b.ID)
	assert.Equal(t, domain.OrderStatusRefunded, gotB.Status)
	assert.Equal(t, 2_500.0, gotB.Winnings)

	for _, p := range report.Pools {
		if p.GameMode == domain.GameModeDataSniper {
			assert.Equal(t, 2, p.Refunded)
			assert.Zero(t, p.Won)
			assert.Zero(t, p.Lost)
		}
	}
}

func TestSettleJackpotNoMatchingRangeRefunds(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	order, err := env.confirmStake(ctx, "user-1", "opt-"+domain.RangeTag(45_000, 45_500), 1_000, txHash(1))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.2)

	// Price outside every materialized range.
	svc := env.settlementSvc(nil)
	_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(99_999),
	})
	require.NoError(t, err)

	got, _ := env.orders.GetByID(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusRefunded, got.Status)
	assert.Equal(t, 1_000.0, got.Winnings)
}

func TestSettleConservation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	stakes := []struct {
		user   string
		option string
		amount float64
	}{
		{"user-1", "opt-HAWKISH", 333},
		{"user-2", "opt-HAWKISH", 1_234},
		{"user-3", "opt-HAWKISH", 77},
		{"user-4", "opt-DOVISH", 4_000},
		{"user-5", "opt-NEUTRAL", 950},
	}
	var poolTotal, winnersStaked float64
	for i, st := range stakes {
		_, err := env.confirmStake(ctx, st.user, st.option, st.amount, txHash(byte(i+1)))
		require.NoError(t, err)
		poolTotal += st.amount
		if st.option == "opt-HAWKISH" {
			winnersStaked += st.amount
		}
	}

	lockAndPublish(t, env, 3.35)

	svc := env.settlementSvc(nil)
	_, err := svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	require.NoError(t, err)

	// Paid winnings sum to the fee-adjusted pool, up to float residual.
	var paid float64
	for _, st := range stakes {
		orders, _, err := env.orders.ListByUser(ctx, st.user, nil, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		for _, o := range orders {
			paid += o.Winnings
		}
	}
	assert.InDelta(t, poolTotal*0.97, paid, 1e-6)
	require.Positive(t, winnersStaked)
}

func TestSettleGuards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))
	svc := env.settlementSvc(nil)
	inputs := domain.SettlementInputs{VolatilityPct: ptr(1.0), SamplePrice: ptr(45_250)}

	// Not LOCKED yet.
	_, err := svc.Settle(ctx, "evt-1", inputs)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// LOCKED without a published value.
	require.NoError(t, env.events.TransitionStatus(ctx, "evt-1",
		domain.EventStatusBetting, domain.EventStatusLocked))
	_, err = svc.Settle(ctx, "evt-1", inputs)
	assert.ErrorIs(t, err, domain.ErrMissingOutcome)

	// A concurrent settler owns the SETTLING claim.
	require.NoError(t, env.events.SetPublishedValue(ctx, "evt-1", 3.35))
	require.NoError(t, env.events.TransitionStatus(ctx, "evt-1",
		domain.EventStatusLocked, domain.EventStatusSettling))
	_, err = svc.Settle(ctx, "evt-1", inputs)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	_, err = svc.Settle(ctx, "evt-missing", inputs)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettleRetryAfterSuccessIsNoop(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	order, err := env.confirmStake(ctx, "user-1", "opt-HAWKISH", 500, txHash(1))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)
	svc := env.settlementSvc(nil)
	inputs := domain.SettlementInputs{VolatilityPct: ptr(1.0), SamplePrice: ptr(45_250)}

	original, err := svc.Settle(ctx, "evt-1", inputs)
	require.NoError(t, err)
	first, _ := env.orders.GetByID(ctx, order.ID)

	// Second call succeeds without touching any order again.
	retry, err := svc.Settle(ctx, "evt-1", inputs)
	require.NoError(t, err)
	second, _ := env.orders.GetByID(ctx, order.ID)
	assert.Equal(t, first, second)

	// The retry reports the settled outcome instead of an empty body.
	assert.Equal(t, original.EventID, retry.EventID)
	assert.Equal(t, original.EventName, retry.EventName)
	assert.Equal(t, original.PublishedValue, retry.PublishedValue)
	assert.Len(t, retry.Pools, len(original.Pools))
	for i, pool := range original.Pools {
		assert.Equal(t, pool.PoolID, retry.Pools[i].PoolID)
		assert.Equal(t, pool.Won, retry.Pools[i].Won)
		assert.Equal(t, pool.Lost, retry.Pools[i].Lost)
		assert.Equal(t, pool.Refunded, retry.Pools[i].Refunded)
		assert.InDelta(t, pool.WinningStaked, retry.Pools[i].WinningStaked, 1e-9)
	}
}

func TestSettleRollsBackOnMissingInputs(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	_, err := env.confirmStake(ctx, "user-1", "opt-CALM", 500, txHash(1))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)
	svc := env.settlementSvc(nil)

	// No volatility observation: the volatility pool cannot resolve.
	_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{SamplePrice: ptr(45_250)})
	require.ErrorIs(t, err, domain.ErrMissingOutcome)

	// The event returned to LOCKED and a complete retry succeeds.
	event, _ := env.events.GetByID(ctx, "evt-1")
	assert.Equal(t, domain.EventStatusLocked, event.Status)

	_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	assert.NoError(t, err)
}

func TestSettleUpdatesUserStats(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	winner, err := env.userSvc.GetOrCreate(ctx, "0xaaa", "winner", "")
	require.NoError(t, err)
	loser, err := env.userSvc.GetOrCreate(ctx, "0xbbb", "loser", "")
	require.NoError(t, err)

	_, err = env.confirmStake(ctx, winner.ID, "opt-HAWKISH", 1_000, txHash(1))
	require.NoError(t, err)
	_, err = env.confirmStake(ctx, loser.ID, "opt-DOVISH", 3_000, txHash(2))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)
	svc := env.settlementSvc(nil)
	_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	require.NoError(t, err)

	ws, err := env.userSvc.Stats(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ws.TotalBets)
	assert.Equal(t, 1, ws.TotalWins)
	assert.InDelta(t, 4_000*0.97, ws.TotalWinnings, 1e-9)
	assert.Equal(t, 100.0, ws.WinRate)

	ls, err := env.userSvc.Stats(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ls.TotalLosses)
	assert.Zero(t, ls.TotalWinnings)
}

func TestSettlePendingBatch(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(-time.Minute))

	_, err := env.betSvc.PlaceStake(ctx, "user-1", "evt-1", "opt-HAWKISH", 100)
	require.ErrorIs(t, err, domain.ErrWindowClosed)

	require.NoError(t, env.events.TransitionStatus(ctx, "evt-1",
		domain.EventStatusBetting, domain.EventStatusLocked))
	require.NoError(t, env.events.SetPublishedValue(ctx, "evt-1", 3.35))

	svc := env.settlementSvc(staticInputs{inputs: domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	}})

	settled, err := svc.SettlePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	event, _ := env.events.GetByID(ctx, "evt-1")
	assert.Equal(t, domain.EventStatusSettled, event.Status)

	// Nothing left to settle on the next sweep.
	settled, err = svc.SettlePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, settled)
}

func TestSettlePendingResolvesOutcomeFromSource(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	_, err := env.confirmStake(ctx, "user-1", "opt-HAWKISH", 500, txHash(1))
	require.NoError(t, err)

	// Release passes without the operator publishing a value.
	require.NoError(t, env.events.TransitionStatus(ctx, "evt-1",
		domain.EventStatusBetting, domain.EventStatusLocked))
	env.events.mu.Lock()
	env.events.events["evt-1"].ReleaseTime = time.Now().Add(-time.Minute)
	env.events.mu.Unlock()

	svc := env.settlementSvc(staticInputs{
		outcome: ptr(3.35),
		inputs: domain.SettlementInputs{
			VolatilityPct: ptr(1.0),
			SamplePrice:   ptr(45_250),
		},
	})

	settled, err := svc.SettlePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	event, err := env.events.GetByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusSettled, event.Status)
	require.NotNil(t, event.PublishedValue)
	assert.InDelta(t, 3.35, *event.PublishedValue, 1e-9)
}

func TestSettlePendingWaitsWithoutOutcome(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusLocked, time.Now().Add(-time.Minute))

	svc := env.settlementSvc(staticInputs{})

	settled, err := svc.SettlePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, settled)

	event, err := env.events.GetByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusLocked, event.Status)
	assert.Nil(t, event.PublishedValue)
}

func TestSettleAuditTrail(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedEvent(domain.EventStatusBetting, time.Now().Add(time.Hour))

	_, err := env.confirmStake(ctx, "user-1", "opt-HAWKISH", 500, txHash(1))
	require.NoError(t, err)

	lockAndPublish(t, env, 3.35)
	svc := env.settlementSvc(nil)
	_, err = svc.Settle(ctx, "evt-1", domain.SettlementInputs{
		VolatilityPct: ptr(1.0),
		SamplePrice:   ptr(45_250),
	})
	require.NoError(t, err)

	entries, err := env.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)

	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Event)
	}
	assert.Contains(t, kinds, "bet.confirmed")
	assert.Contains(t, kinds, "event.settled")
}
