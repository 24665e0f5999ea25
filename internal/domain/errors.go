package domain

import "errors"

// Error taxonomy. Services wrap these with a human-readable reason via
// fmt.Errorf("...: %w", Err...); callers classify with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state for transition")
	ErrWindowClosed          = errors.New("betting window closed")
	ErrLimitExceeded         = errors.New("per-event exposure cap exceeded")
	ErrOwnershipViolation    = errors.New("order not owned by caller")
	ErrDuplicateConfirmation = errors.New("confirmation token already used")
	ErrMissingOutcome        = errors.New("published value not set")
	ErrConcurrencyConflict   = errors.New("concurrent update conflict")
	ErrInvalidStake          = errors.New("stake amount out of bounds")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
