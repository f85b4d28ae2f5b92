package models

import (
	"time"
)

// Badge job status constants
const (
	BadgeStatusPending   = "pending"
	BadgeStatusPrinting  = "printing"
	BadgeStatusCompleted = "completed"
	BadgeStatusFailed    = "failed"
)

// BadgePayload is the denormalized badge content captured at enqueue
// time, so printing never re-reads ticket state.
type BadgePayload struct {
	AttendeeName  string  `json:"attendee_name"`
	AttendeeEmail string  `json:"attendee_email"`
	Company       *string `json:"company,omitempty"`
	TierName      string  `json:"tier_name"`
	EventTitle    string  `json:"event_title"`
	Credential    string  `json:"credential"`
}

// BadgeJob is one badge to be printed for one ticket.
type BadgeJob struct {
	ID          string       `json:"id" db:"id"`
	TicketID    string       `json:"ticket_id" db:"ticket_id"`
	StationID   string       `json:"station_id" db:"station_id"`
	PrinterID   *string      `json:"printer_id,omitempty" db:"printer_id"`
	Priority    int          `json:"priority" db:"priority"`
	Status      string       `json:"status" db:"status"`
	RetryCount  int          `json:"retry_count" db:"retry_count"`
	Error       *string      `json:"error,omitempty" db:"error"`
	Payload     BadgePayload `json:"payload" db:"payload"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	ClaimedAt   *time.Time   `json:"claimed_at,omitempty" db:"claimed_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// BadgeQueueSummary is the counts-by-status view for the operations
// dashboard.
type BadgeQueueSummary struct {
	Pending   int `json:"pending"`
	Printing  int `json:"printing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type ClaimBadgeJobRequest struct {
	PrinterID string `json:"printer_id"`
	StationID string `json:"station_id"`
}

type FailBadgeJobRequest struct {
	Error string `json:"error" binding:"required"`
}
