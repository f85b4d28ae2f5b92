package store

import (
	"context"
	"time"

	"gatescan-backend/models"
)

// CheckInInput is one attempt to check in one resolved ticket.
type CheckInInput struct {
	TicketID   string
	StationID  string
	OperatorID string
	Method     string
	// CheckedInAt is the canonical server-side timestamp for the log
	// entry. Zero means "now".
	CheckedInAt time.Time
}

// CheckInOutcome reports what the conditional write did. Applied is
// false when the ticket was already checked in; CheckedInAt then holds
// the stored timestamp for the duplicate rule.
type CheckInOutcome struct {
	Applied      bool
	CheckInLogID string
	CheckedInAt  time.Time
}

type EnqueueBadgeJobInput struct {
	TicketID  string
	StationID string
	PrinterID string
	Priority  int
	Payload   models.BadgePayload
}

// BadgeJobFilter narrows badge job listings for the operations view.
type BadgeJobFilter struct {
	StationID string
	Status    string
	Limit     int
}

type TicketStore interface {
	// ResolveTicket looks a ticket up by its credential string or its id.
	ResolveTicket(ctx context.Context, credentialOrID string) (models.Ticket, error)
	// CheckInTicket performs the atomic conditional check-in update and
	// appends the audit log entry in the same transaction. Concurrent
	// callers for the same ticket serialize through the storage layer;
	// losers observe Applied=false.
	CheckInTicket(ctx context.Context, input CheckInInput) (CheckInOutcome, error)
	ListCheckIns(ctx context.Context, eventID string) ([]models.CheckInLog, error)

	EnqueueBadgeJob(ctx context.Context, input EnqueueBadgeJobInput) (models.BadgeJob, error)
	// ClaimNextBadgeJob atomically moves the highest-priority, oldest
	// pending job to printing. The boolean is false when nothing is
	// eligible.
	ClaimNextBadgeJob(ctx context.Context, printerID, stationID string) (models.BadgeJob, bool, error)
	CompleteBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error)
	FailBadgeJob(ctx context.Context, jobID, message string) (models.BadgeJob, error)
	// RetryBadgeJob is operator-triggered only: failed -> pending.
	RetryBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error)
	ListBadgeJobs(ctx context.Context, filter BadgeJobFilter) ([]models.BadgeJob, error)
	BadgeQueueSummary(ctx context.Context, stationID string) (models.BadgeQueueSummary, error)

	GetStation(ctx context.Context, stationID string) (models.Station, error)
	Heartbeat(ctx context.Context, stationID string, at time.Time) error
	RecordSync(ctx context.Context, stationID string, pendingCount int, at time.Time) error
	ListStations(ctx context.Context, eventID string) ([]models.Station, error)
}
