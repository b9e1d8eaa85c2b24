// Package idempotency provides the atomic reservation guard that gives
// ledger operations exactly-once effect semantics under at-least-once
// delivery. The guard is independent of any HTTP framework machinery.
package idempotency

import (
	"context"
	"errors"
)

// ErrInFlight is returned when a duplicate request arrives while the original
// is still executing and no outcome gets recorded within the wait budget.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Outcome is the memoized result of a ledger operation. ErrorKind is empty
// for successes and carries the stable business-error string otherwise.
type Outcome struct {
	TransactionID string `json:"transaction_id"`
	ErrorKind     string `json:"error_kind,omitempty"`
}

// Reservation is the result of Reserve. Exactly one concurrent caller per key
// observes Fresh; the rest receive the recorded Outcome once available.
type Reservation struct {
	Fresh   bool
	Outcome *Outcome
}

// Guard maps idempotency keys to completed outcomes. Reserve must be atomic:
// when two requests race on the same key, one wins and proceeds, the other
// waits for the winner's outcome. Entries live at least as long as the
// configured retry window before eviction.
type Guard interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	RecordOutcome(ctx context.Context, key string, out Outcome) error
	// Release drops a reservation whose outcome must not be memoized
	// (contention, infrastructure failure) so a retry can re-execute.
	Release(ctx context.Context, key string) error
}
