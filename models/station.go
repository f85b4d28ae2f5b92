package models

import (
	"time"
)

// Station is a physical check-in terminal (kiosk or handheld).
type Station struct {
	ID               string     `json:"id" db:"id"`
	EventID          string     `json:"event_id" db:"event_id"`
	Name             string     `json:"name" db:"name"`
	Online           bool       `json:"online" db:"online"`
	PendingSyncCount int        `json:"pending_sync_count" db:"pending_sync_count"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	Retired          bool       `json:"retired" db:"retired"`
}
