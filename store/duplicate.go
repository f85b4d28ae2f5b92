package store

import "time"

// DuplicateOutcome classifies a check-in attempt that found the ticket
// already checked in.
type DuplicateOutcome int

const (
	// DuplicateRejected: live scan of an already-checked-in ticket.
	// Terminal, surfaced to the operator with the stored timestamp.
	DuplicateRejected DuplicateOutcome = iota
	// DuplicateResolved: offline replay whose record is not earlier than
	// the stored check-in. Acknowledged as synced without mutation; the
	// earliest check-in wins.
	DuplicateResolved
	// DuplicateConflict: offline replay carrying a timestamp earlier
	// than the stored one (clock skew or out-of-order delivery). Still
	// acknowledged as synced, flagged as a conflict; checked_in_at is
	// never moved backward.
	DuplicateConflict
)

// ResolveDuplicate applies the duplicate rule. storedAt is the
// committed checked_in_at, clientAt the replayed record's timestamp.
func ResolveDuplicate(storedAt, clientAt time.Time, offlineSync bool) DuplicateOutcome {
	if !offlineSync {
		return DuplicateRejected
	}
	if clientAt.IsZero() || !storedAt.After(clientAt) {
		return DuplicateResolved
	}
	return DuplicateConflict
}
