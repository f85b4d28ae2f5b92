package models

import (
	"time"

	"github.com/google/uuid"
)

// Ticket represents one attendee's entitlement to one event/tier.
// Mutated only by the check-in handlers, never deleted here.
type Ticket struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	EventID       string     `json:"event_id" db:"event_id"`
	AttendeeID    uuid.UUID  `json:"attendee_id" db:"attendee_id"`
	TierID        uuid.UUID  `json:"tier_id" db:"tier_id"`
	Credential    string     `json:"credential" db:"credential"`
	CheckedIn     bool       `json:"checked_in" db:"checked_in"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	CheckInCount  int        `json:"check_in_count" db:"check_in_count"`
	BadgePrinted  bool       `json:"badge_printed" db:"badge_printed"`
	AttendeeName  string     `json:"attendee_name" db:"attendee_name"`
	AttendeeEmail string     `json:"attendee_email" db:"attendee_email"`
	Company       *string    `json:"company,omitempty" db:"company"`
	TierName      string     `json:"tier_name" db:"tier_name"`
	BadgeRequired bool       `json:"badge_required" db:"badge_required"`
	EventTitle    string     `json:"event_title" db:"event_title"`
}
