package domain

import (
	"fmt"
	"time"
)

// EventType is the kind of macro indicator a release publishes.
type EventType string

const (
	EventTypeCPI     EventType = "CPI"
	EventTypeNFP     EventType = "NFP"
	EventTypeGDP     EventType = "GDP"
	EventTypeFedRate EventType = "FED_RATE"
)

// EventStatus tracks the market lifecycle of a data release.
type EventStatus string

const (
	EventStatusOpen     EventStatus = "OPEN"     // pools exist, betting not yet open
	EventStatusBetting  EventStatus = "BETTING"  // stakes accepted
	EventStatusLocked   EventStatus = "LOCKED"   // window closed, awaiting outcome
	EventStatusSettling EventStatus = "SETTLING" // settlement in progress, acts as a mutex
	EventStatusSettled  EventStatus = "SETTLED"  // terminal
)

// LockOffset is how long before the release time betting closes.
const LockOffset = 5 * time.Minute

// Event is one scheduled real-world data release being predicted on.
// Events are never deleted; a settled event is the historical record.
type Event struct {
	ID             string
	Name           string
	Type           EventType
	ReleaseTime    time.Time
	ConsensusValue float64
	PublishedValue *float64 // nil until the outcome is known
	Tolerance      float64
	Status         EventStatus
	SettledAt      *time.Time
	CreatedAt      time.Time

	Pools []Pool
}

// CanBet reports whether the event accepts stakes at the given instant:
// it must be in BETTING and the lock time must not have passed.
func (e Event) CanBet(now time.Time) bool {
	return e.Status == EventStatusBetting && now.Before(e.LockTime())
}

// LockTime is the instant betting closes: ReleaseTime minus LockOffset.
func (e Event) LockTime() time.Time {
	return e.ReleaseTime.Add(-LockOffset)
}

// GameMode identifies one of the three betting modes. The enumeration is
// closed: winner determination dispatches through an exhaustive switch.
type GameMode string

const (
	// GameModeDataSniper classifies the print against consensus within a
	// tolerance band (below / within / above).
	GameModeDataSniper GameMode = "DATA_SNIPER"
	// GameModeVolatilityHunter classifies the post-release volatility
	// magnitude (calm / moderate / storm).
	GameModeVolatilityHunter GameMode = "VOLATILITY_HUNTER"
	// GameModeJackpot classifies a sampled price into disjoint ranges.
	GameModeJackpot GameMode = "JACKPOT"
)

// GameModes lists every mode, in the order pools are created for an event.
var GameModes = []GameMode{
	GameModeDataSniper,
	GameModeVolatilityHunter,
	GameModeJackpot,
}

// Valid reports whether m is a known game mode.
func (m GameMode) Valid() bool {
	switch m {
	case GameModeDataSniper, GameModeVolatilityHunter, GameModeJackpot:
		return true
	}
	return false
}

// Pool is the aggregate stake pot for one game mode within an event.
// Invariant: TotalAmount equals the sum of its options' TotalAmount after
// every committed transaction.
type Pool struct {
	ID          string
	EventID     string
	GameMode    GameMode
	TotalAmount float64
	CreatedAt   time.Time

	Options []Option
}

// Option type tags for the data-sniper mode.
const (
	OptionTypeDovish  = "DOVISH"  // print below consensus beyond tolerance
	OptionTypeNeutral = "NEUTRAL" // print within tolerance of consensus
	OptionTypeHawkish = "HAWKISH" // print above consensus beyond tolerance
)

// Option type tags for the volatility-hunter mode.
const (
	OptionTypeCalm     = "CALM"     // < 2% move
	OptionTypeModerate = "MODERATE" // 2% – 5% move
	OptionTypeStorm    = "STORM"    // >= 5% move
)

// Option is one selectable outcome bucket inside a pool. Jackpot options
// encode their price range in the type tag as "RANGE_<min>_<max>"; before
// ranges are materialized the tag is a "RANGE_<n>" placeholder.
type Option struct {
	ID          string
	PoolID      string
	Name        string
	Type        string
	TotalAmount float64
	CreatedAt   time.Time
}

// RangeTag builds the jackpot type tag for a [min, max) price range.
func RangeTag(min, max int64) string {
	return fmt.Sprintf("RANGE_%d_%d", min, max)
}

// PriceRange decodes a jackpot option's [min, max) bounds from its type tag.
// ok is false for placeholder tags and options of other modes.
func (o Option) PriceRange() (min, max float64, ok bool) {
	var lo, hi int64
	n, err := fmt.Sscanf(o.Type, "RANGE_%d_%d", &lo, &hi)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return float64(lo), float64(hi), true
}

// Contains reports whether the sampled price falls in the option's
// half-open [min, max) range.
func (o Option) Contains(price float64) bool {
	min, max, ok := o.PriceRange()
	return ok && price >= min && price < max
}
