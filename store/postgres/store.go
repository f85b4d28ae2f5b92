// Package postgres implements store.TicketStore against a pgx pool.
// The check-in transition and the badge claim are single conditional
// writes so that concurrent callers serialize through the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gatescan-backend/credential"
	"gatescan-backend/models"
	"gatescan-backend/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `id, event_id, attendee_id, tier_id, credential, checked_in, checked_in_at,
	check_in_count, badge_printed, attendee_name, attendee_email, company, tier_name, badge_required, event_title`

func (s *Store) ResolveTicket(ctx context.Context, credentialOrID string) (models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id::text = $1`
	if credential.ValidateFormat(credentialOrID) {
		query = `SELECT ` + ticketColumns + ` FROM tickets WHERE credential = $1`
	}

	row := s.pool.QueryRow(ctx, query, credentialOrID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CheckInTicket(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CheckInOutcome{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = stationExists(ctx, tx, input.StationID); err != nil {
		return store.CheckInOutcome{}, err
	}

	checkedInAt := input.CheckedInAt
	if checkedInAt.IsZero() {
		checkedInAt = time.Now().UTC()
	}

	// The WHERE checked_in = FALSE guard is the whole concurrency story:
	// of N concurrent callers exactly one row-updates, the rest fall
	// into the duplicate branch below.
	var eventID string
	var storedAt time.Time
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET checked_in = TRUE,
			checked_in_at = $2,
			check_in_count = check_in_count + 1
		WHERE id::text = $1 AND checked_in = FALSE
		RETURNING event_id, checked_in_at
	`, input.TicketID, checkedInAt)
	if err = row.Scan(&eventID, &storedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return store.CheckInOutcome{}, err
		}
		// Already checked in, or unknown. Report the stored timestamp so
		// the caller can apply the duplicate rule.
		err = nil
		var existingAt sql.NullTime
		lookup := tx.QueryRow(ctx, `SELECT checked_in_at FROM tickets WHERE id::text = $1`, input.TicketID)
		if err = lookup.Scan(&existingAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = store.ErrTicketNotFound
			}
			return store.CheckInOutcome{}, err
		}
		if err = tx.Commit(ctx); err != nil {
			return store.CheckInOutcome{}, err
		}
		outcome := store.CheckInOutcome{Applied: false}
		if existingAt.Valid {
			outcome.CheckedInAt = existingAt.Time
		}
		return outcome, nil
	}

	logID := uuid.NewString()
	method := input.Method
	if method == "" {
		method = models.MethodScan
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO checkin_logs (id, ticket_id, event_id, station_id, operator_id, method, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, logID, input.TicketID, eventID, input.StationID, nullIfEmpty(input.OperatorID), method, storedAt)
	if err != nil {
		return store.CheckInOutcome{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CheckInOutcome{}, err
	}

	return store.CheckInOutcome{
		Applied:      true,
		CheckInLogID: logID,
		CheckedInAt:  storedAt,
	}, nil
}

func (s *Store) ListCheckIns(ctx context.Context, eventID string) ([]models.CheckInLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, event_id, station_id, COALESCE(operator_id, ''), method, checked_in_at
		FROM checkin_logs
		WHERE event_id = $1
		ORDER BY checked_in_at DESC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.CheckInLog
	for rows.Next() {
		var entry models.CheckInLog
		if err := rows.Scan(&entry.ID, &entry.TicketID, &entry.EventID, &entry.StationID, &entry.OperatorID, &entry.Method, &entry.CheckedInAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) EnqueueBadgeJob(ctx context.Context, input store.EnqueueBadgeJobInput) (models.BadgeJob, error) {
	payloadJSON, err := json.Marshal(input.Payload)
	if err != nil {
		return models.BadgeJob{}, err
	}

	jobID := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO badge_jobs (id, ticket_id, station_id, printer_id, priority, status, retry_count, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING `+badgeJobColumns+`
	`, jobID, input.TicketID, input.StationID, nullIfEmpty(input.PrinterID), input.Priority, models.BadgeStatusPending, payloadJSON, time.Now().UTC())
	return scanBadgeJob(row)
}

const badgeJobColumns = `id, ticket_id, station_id, printer_id, priority, status, retry_count, error, payload, created_at, claimed_at, completed_at`

func (s *Store) ClaimNextBadgeJob(ctx context.Context, printerID, stationID string) (models.BadgeJob, bool, error) {
	// Priority ordering is enforced here, not assumed of storage:
	// strictly descending priority, ties broken oldest-first. SKIP
	// LOCKED keeps two printers from ever claiming the same job.
	args := []interface{}{time.Now().UTC(), nullIfEmpty(printerID)}
	filter := ""
	if printerID != "" {
		filter += " AND (printer_id IS NULL OR printer_id = $2)"
	}
	if stationID != "" {
		args = append(args, stationID)
		filter += " AND station_id = $" + itoa(len(args))
	}

	row := s.pool.QueryRow(ctx, `
		WITH next_job AS (
			SELECT id
			FROM badge_jobs
			WHERE status = 'pending'`+filter+`
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE badge_jobs
		SET status = 'printing',
			claimed_at = $1,
			printer_id = COALESCE($2, printer_id)
		FROM next_job
		WHERE badge_jobs.id = next_job.id AND badge_jobs.status = 'pending'
		RETURNING badge_jobs.id, badge_jobs.ticket_id, badge_jobs.station_id, badge_jobs.printer_id,
			badge_jobs.priority, badge_jobs.status, badge_jobs.retry_count, badge_jobs.error,
			badge_jobs.payload, badge_jobs.created_at, badge_jobs.claimed_at, badge_jobs.completed_at
	`, args...)
	job, err := scanBadgeJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BadgeJob{}, false, nil
		}
		return models.BadgeJob{}, false, err
	}
	return job, true, nil
}

func (s *Store) CompleteBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.BadgeJob{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE badge_jobs
		SET status = 'completed',
			completed_at = $2
		WHERE id = $1 AND status = 'printing'
		RETURNING `+badgeJobColumns+`
	`, jobID, time.Now().UTC())
	job, err := scanBadgeJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = badgeJobStateError(ctx, tx, jobID)
		}
		return models.BadgeJob{}, err
	}

	_, err = tx.Exec(ctx, `UPDATE tickets SET badge_printed = TRUE WHERE id::text = $1`, job.TicketID)
	if err != nil {
		return models.BadgeJob{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.BadgeJob{}, err
	}
	return job, nil
}

func (s *Store) FailBadgeJob(ctx context.Context, jobID, message string) (models.BadgeJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE badge_jobs
		SET status = 'failed',
			error = $2
		WHERE id = $1 AND status IN ('pending', 'printing')
		RETURNING `+badgeJobColumns+`
	`, jobID, message)
	job, err := scanBadgeJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BadgeJob{}, s.badgeJobStateErrorPool(ctx, jobID)
		}
		return models.BadgeJob{}, err
	}
	return job, nil
}

func (s *Store) RetryBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE badge_jobs
		SET status = 'pending',
			retry_count = retry_count + 1,
			error = NULL
		WHERE id = $1 AND status = 'failed'
		RETURNING `+badgeJobColumns+`
	`, jobID)
	job, err := scanBadgeJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BadgeJob{}, s.badgeJobStateErrorPool(ctx, jobID)
		}
		return models.BadgeJob{}, err
	}
	return job, nil
}

func (s *Store) ListBadgeJobs(ctx context.Context, filter store.BadgeJobFilter) ([]models.BadgeJob, error) {
	query := `SELECT ` + badgeJobColumns + ` FROM badge_jobs WHERE TRUE`
	var args []interface{}
	if filter.StationID != "" {
		args = append(args, filter.StationID)
		query += ` AND station_id = $` + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.BadgeJob
	for rows.Next() {
		job, err := scanBadgeJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Store) BadgeQueueSummary(ctx context.Context, stationID string) (models.BadgeQueueSummary, error) {
	query := `SELECT status, COUNT(*) FROM badge_jobs`
	var args []interface{}
	if stationID != "" {
		query += ` WHERE station_id = $1`
		args = append(args, stationID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return models.BadgeQueueSummary{}, err
	}
	defer rows.Close()

	var summary models.BadgeQueueSummary
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.BadgeQueueSummary{}, err
		}
		switch status {
		case models.BadgeStatusPending:
			summary.Pending = count
		case models.BadgeStatusPrinting:
			summary.Printing = count
		case models.BadgeStatusCompleted:
			summary.Completed = count
		case models.BadgeStatusFailed:
			summary.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return models.BadgeQueueSummary{}, err
	}
	return summary, nil
}

const stationColumns = `id, event_id, name, online, pending_sync_count, last_sync_at, last_heartbeat, retired`

func (s *Store) GetStation(ctx context.Context, stationID string) (models.Station, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stationColumns+` FROM stations WHERE id = $1`, stationID)
	station, err := scanStation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Station{}, store.ErrStationNotFound
		}
		return models.Station{}, err
	}
	return station, nil
}

func (s *Store) Heartbeat(ctx context.Context, stationID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stations
		SET last_heartbeat = $2, online = TRUE
		WHERE id = $1 AND retired = FALSE
	`, stationID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStationNotFound
	}
	return nil
}

func (s *Store) RecordSync(ctx context.Context, stationID string, pendingCount int, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stations
		SET last_sync_at = $2, pending_sync_count = $3, online = TRUE
		WHERE id = $1 AND retired = FALSE
	`, stationID, at, pendingCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStationNotFound
	}
	return nil
}

func (s *Store) ListStations(ctx context.Context, eventID string) ([]models.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE retired = FALSE`
	var args []interface{}
	if eventID != "" {
		args = append(args, eventID)
		query += ` AND event_id = $1`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		station, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, station)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

// MarkStaleStations flips online=FALSE on stations whose heartbeat is
// older than the threshold. Run periodically from main.
func (s *Store) MarkStaleStations(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-threshold)
	tag, err := s.pool.Exec(ctx, `
		UPDATE stations
		SET online = FALSE
		WHERE online = TRUE AND (last_heartbeat IS NULL OR last_heartbeat < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func stationExists(ctx context.Context, tx pgx.Tx, stationID string) error {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stations WHERE id = $1 AND retired = FALSE)`, stationID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrStationNotFound
	}
	return nil
}

func badgeJobStateError(ctx context.Context, tx pgx.Tx, jobID string) error {
	var status string
	row := tx.QueryRow(ctx, `SELECT status FROM badge_jobs WHERE id = $1`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrJobNotFound
		}
		return err
	}
	return store.ErrInvalidState
}

func (s *Store) badgeJobStateErrorPool(ctx context.Context, jobID string) error {
	var status string
	row := s.pool.QueryRow(ctx, `SELECT status FROM badge_jobs WHERE id = $1`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrJobNotFound
		}
		return err
	}
	return store.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var checkedInAt sql.NullTime
	var company sql.NullString
	var eventTitle string
	if err := row.Scan(
		&ticket.ID, &ticket.EventID, &ticket.AttendeeID, &ticket.TierID, &ticket.Credential,
		&ticket.CheckedIn, &checkedInAt, &ticket.CheckInCount, &ticket.BadgePrinted,
		&ticket.AttendeeName, &ticket.AttendeeEmail, &company, &ticket.TierName,
		&ticket.BadgeRequired, &eventTitle,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.CheckedInAt = nullTimePtr(checkedInAt)
	ticket.Company = nullStringPtr(company)
	ticket.EventTitle = eventTitle
	return ticket, nil
}

func scanBadgeJob(row rowScanner) (models.BadgeJob, error) {
	var job models.BadgeJob
	var printerID sql.NullString
	var jobErr sql.NullString
	var payloadJSON []byte
	var claimedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&job.ID, &job.TicketID, &job.StationID, &printerID, &job.Priority, &job.Status,
		&job.RetryCount, &jobErr, &payloadJSON, &job.CreatedAt, &claimedAt, &completedAt,
	); err != nil {
		return models.BadgeJob{}, err
	}
	job.PrinterID = nullStringPtr(printerID)
	job.Error = nullStringPtr(jobErr)
	job.ClaimedAt = nullTimePtr(claimedAt)
	job.CompletedAt = nullTimePtr(completedAt)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return models.BadgeJob{}, err
		}
	}
	return job, nil
}

func scanStation(row rowScanner) (models.Station, error) {
	var station models.Station
	var lastSyncAt sql.NullTime
	var lastHeartbeat sql.NullTime
	if err := row.Scan(
		&station.ID, &station.EventID, &station.Name, &station.Online,
		&station.PendingSyncCount, &lastSyncAt, &lastHeartbeat, &station.Retired,
	); err != nil {
		return models.Station{}, err
	}
	station.LastSyncAt = nullTimePtr(lastSyncAt)
	station.LastHeartbeat = nullTimePtr(lastHeartbeat)
	return station, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
