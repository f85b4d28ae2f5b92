package models

import (
	"time"
)

// Check-in methods
const (
	MethodScan   = "scan"
	MethodManual = "manual"
)

// CheckInLog is the append-only audit record of accepted check-ins.
type CheckInLog struct {
	ID          string    `json:"id" db:"id"`
	TicketID    string    `json:"ticket_id" db:"ticket_id"`
	EventID     string    `json:"event_id" db:"event_id"`
	StationID   string    `json:"station_id" db:"station_id"`
	OperatorID  string    `json:"operator_id" db:"operator_id"`
	Method      string    `json:"method" db:"method"`
	CheckedInAt time.Time `json:"checked_in_at" db:"checked_in_at"`
}

// CheckInRequest is one live scan from a station.
type CheckInRequest struct {
	Credential      string    `json:"credential" binding:"required"`
	StationID       string    `json:"station_id" binding:"required"`
	OperatorID      string    `json:"operator_id"`
	Method          string    `json:"method"`
	IsOfflineSync   bool      `json:"is_offline_sync"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	LocalID         string    `json:"local_id"`
}

// CheckInResult is the per-item outcome returned to a station.
// LocalID echoes the client-generated id when present; batch clients
// still correlate by position.
type CheckInResult struct {
	Success         bool       `json:"success"`
	LocalID         string     `json:"local_id,omitempty"`
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty"`
	CheckInLogID    string     `json:"checkin_log_id,omitempty"`
	AttendeeName    string     `json:"attendee_name,omitempty"`
	AttendeeEmail   string     `json:"attendee_email,omitempty"`
	CheckedInAt     *time.Time `json:"checked_in_at,omitempty"`
	Conflict        bool       `json:"conflict,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// SyncBatchRequest carries every unsynced record from one station.
// Array order is significant: results match by position.
type SyncBatchRequest struct {
	StationID string           `json:"station_id" binding:"required"`
	CheckIns  []CheckInRequest `json:"check_ins" binding:"required"`
}

type SyncBatchResponse struct {
	Success bool            `json:"success"`
	Results []CheckInResult `json:"results"`
}
