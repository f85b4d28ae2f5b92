// Package station holds the client-side pieces that run on a check-in
// terminal: the durable offline queue and the sync client that drains
// it against the server.
package station

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatescan-backend/credential"
)

// Record is one check-in attempt captured while offline-capable. It
// stays on disk until the server confirms it as synced.
type Record struct {
	LocalID         string    `json:"local_id"`
	Credential      string    `json:"credential"`
	StationID       string    `json:"station_id"`
	OperatorID      string    `json:"operator_id,omitempty"`
	Method          string    `json:"method,omitempty"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	Synced          bool      `json:"synced"`
	SyncAttempts    int       `json:"sync_attempts"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRecord stamps a fresh record for a scan happening now.
func NewRecord(cred, stationID, operatorID, method string) Record {
	now := time.Now().UTC()
	return Record{
		LocalID:         uuid.NewString(),
		Credential:      cred,
		StationID:       stationID,
		OperatorID:      operatorID,
		Method:          method,
		ClientTimestamp: now,
		CreatedAt:       now,
	}
}

var ErrRecordNotFound = errors.New("record not found")

// Queue is the durable per-station offline queue, persisted as a JSON
// file rewritten atomically on every mutation. No network access
// happens inside this type.
type Queue struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// Open loads the queue file, creating an empty queue when the file does
// not exist yet.
func Open(path string) (*Queue, error) {
	q := &Queue{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.records); err != nil {
			return nil, fmt.Errorf("corrupt queue file %s: %w", path, err)
		}
	}
	return q, nil
}

// Enqueue appends a record with synced=false. Structurally invalid
// credentials are rejected before touching storage. Re-enqueueing an
// existing local id is a no-op: the id is the idempotency key.
func (q *Queue) Enqueue(rec Record) error {
	if !credential.ValidateFormat(rec.Credential) {
		return credential.ErrMalformed
	}
	if rec.LocalID == "" {
		return errors.New("record needs a local id")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.records {
		if existing.LocalID == rec.LocalID {
			return nil
		}
	}

	rec.Synced = false
	rec.SyncAttempts = 0
	q.records = append(q.records, rec)
	return q.persist()
}

// ListUnsynced returns pending records for a station, oldest first.
func (q *Queue) ListUnsynced(stationID string) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Record
	for _, rec := range q.records {
		if !rec.Synced && rec.StationID == stationID {
			out = append(out, rec)
		}
	}
	return out
}

func (q *Queue) MarkSynced(localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.records {
		if q.records[i].LocalID == localID {
			q.records[i].Synced = true
			q.records[i].LastError = ""
			return q.persist()
		}
	}
	return ErrRecordNotFound
}

func (q *Queue) MarkSyncError(localID, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.records {
		if q.records[i].LocalID == localID {
			q.records[i].SyncAttempts++
			q.records[i].LastError = message
			return q.persist()
		}
	}
	return ErrRecordNotFound
}

func (q *Queue) PendingCount(stationID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, rec := range q.records {
		if !rec.Synced && rec.StationID == stationID {
			count++
		}
	}
	return count
}

// PurgeSynced drops records the server has confirmed, returning how
// many were removed.
func (q *Queue) PurgeSynced() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.records[:0]
	purged := 0
	for _, rec := range q.records {
		if rec.Synced {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	if purged == 0 {
		return 0, nil
	}
	q.records = kept
	return purged, q.persist()
}

// persist writes the whole queue to a temp file and renames it into
// place. Callers hold q.mu.
func (q *Queue) persist() error {
	data, err := json.MarshalIndent(q.records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(q.path)
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), q.path)
}
