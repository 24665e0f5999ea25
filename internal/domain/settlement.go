package domain

import "time"

// SettlementInputs carries the externally sourced observations settlement
// needs beyond the event's own published value: the post-release volatility
// percentage for the volatility-hunter pool and the sampled price for the
// jackpot pool. Either may be nil when the corresponding source is not
// configured; settlement of the affected pool then fails rather than guesses.
type SettlementInputs struct {
	VolatilityPct *float64
	SamplePrice   *float64
}

// PoolReport summarizes the settlement outcome of one pool.
type PoolReport struct {
	PoolID        string   `json:"pool_id"`
	GameMode      GameMode `json:"game_mode"`
	TotalAmount   float64  `json:"total_amount"`
	Distributable float64  `json:"distributable"`
	WinningStaked float64  `json:"winning_staked"`
	WinningTypes  []string `json:"winning_types"`
	Won           int      `json:"won"`
	Lost          int      `json:"lost"`
	Refunded      int      `json:"refunded"`
}

// SettlementReport is the per-event record archived after settlement.
type SettlementReport struct {
	EventID        string       `json:"event_id"`
	EventName      string       `json:"event_name"`
	PublishedValue float64      `json:"published_value"`
	ConsensusValue float64      `json:"consensus_value"`
	SettledAt      time.Time    `json:"settled_at"`
	Pools          []PoolReport `json:"pools"`
}
