// Package odds computes pari-mutuel multipliers from pool and option stake
// totals. The same calculator instance is used for live display and for
// settlement payout math so that both divide the identical fee-adjusted pool.
package odds

import "github.com/quantfold/macropool/internal/domain"

// DefaultFeeRate is the platform cut applied to every pool.
const DefaultFeeRate = 0.03

// Calculator derives odds and distributable amounts for a fixed fee rate.
type Calculator struct {
	feeRate float64
}

// NewCalculator creates a Calculator. Fee rates outside [0, 1) fall back to
// DefaultFeeRate.
func NewCalculator(feeRate float64) Calculator {
	if feeRate < 0 || feeRate >= 1 {
		feeRate = DefaultFeeRate
	}
	return Calculator{feeRate: feeRate}
}

// FeeRate returns the configured platform cut.
func (c Calculator) FeeRate() float64 {
	return c.feeRate
}

// Distributable is the pool total after the platform cut.
func (c Calculator) Distributable(poolTotal float64) float64 {
	return poolTotal * (1 - c.feeRate)
}

// Odds returns the multiplier for an option: distributable pool divided by
// the option's staked total. An option nobody has staked has no implied
// price, so its odds are 0.
func (c Calculator) Odds(poolTotal, optionTotal float64) float64 {
	if optionTotal <= 0 {
		return 0
	}
	return c.Distributable(poolTotal) / optionTotal
}

// PoolOdds maps every option of a pool to its current multiplier.
func (c Calculator) PoolOdds(pool domain.Pool) map[string]float64 {
	out := make(map[string]float64, len(pool.Options))
	for _, opt := range pool.Options {
		out[opt.ID] = c.Odds(pool.TotalAmount, opt.TotalAmount)
	}
	return out
}

// EventOdds maps game mode to option odds for every pool of an event.
func (c Calculator) EventOdds(event domain.Event) map[domain.GameMode]map[string]float64 {
	out := make(map[domain.GameMode]map[string]float64, len(event.Pools))
	for _, pool := range event.Pools {
		out[pool.GameMode] = c.PoolOdds(pool)
	}
	return out
}
