package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"gatescan-backend/models"
)

const (
	defaultSyncInterval = 30 * time.Second
	// Batch submissions can carry many records after a long outage, so
	// the transport timeout is generous.
	defaultSyncTimeout = 30 * time.Second
)

// SyncOptions configure a SyncClient. Connectivity is an explicit
// channel rather than an ambient runtime signal so the state machine is
// testable with a fake source: true means online.
type SyncOptions struct {
	StationID    string
	ServerURL    string
	Interval     time.Duration
	HTTPClient   *http.Client
	Connectivity <-chan bool
}

// SyncClient drains the local queue against the server's batch
// endpoint, on a timer while online and immediately on reconnect.
type SyncClient struct {
	queue        *Queue
	stationID    string
	serverURL    string
	interval     time.Duration
	client       *http.Client
	connectivity <-chan bool

	online  atomic.Bool
	syncing atomic.Bool

	lastSyncAt   atomic.Int64 // unix millis, 0 = never
	lastSyncErr  atomic.Value // string
	totalFlushed atomic.Int64
}

func NewSyncClient(queue *Queue, opts SyncOptions) *SyncClient {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSyncTimeout}
	}
	s := &SyncClient{
		queue:        queue,
		stationID:    opts.StationID,
		serverURL:    opts.ServerURL,
		interval:     interval,
		client:       client,
		connectivity: opts.Connectivity,
	}
	s.lastSyncErr.Store("")
	return s
}

func (s *SyncClient) Online() bool { return s.online.Load() }

// LastSyncAt returns the time of the last completed sync, zero if none.
func (s *SyncClient) LastSyncAt() time.Time {
	millis := s.lastSyncAt.Load()
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

func (s *SyncClient) LastSyncError() string {
	value, _ := s.lastSyncErr.Load().(string)
	return value
}

// Run is the per-station loop: one ticker, one connectivity
// subscription. It returns when ctx is cancelled; an in-flight request
// is left to finish or time out on its own.
func (s *SyncClient) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-s.connectivity:
			if !ok {
				return
			}
			wasOnline := s.online.Swap(online)
			if online && !wasOnline {
				log.Printf("Station %s back online, syncing", s.stationID)
				if err := s.SyncNow(ctx); err != nil {
					log.Printf("Sync error: %v", err)
				}
			}
		case <-ticker.C:
			if !s.online.Load() {
				continue
			}
			if err := s.SyncNow(ctx); err != nil {
				log.Printf("Sync error: %v", err)
			}
		}
	}
}

// SyncNow submits every unsynced record in one ordered batch. It is
// reentrant-safe: a call while another is in flight is a no-op. On
// transport failure all records are left unsynced for the next tick;
// local state only mutates after a response is decoded.
func (s *SyncClient) SyncNow(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.syncing.Store(false)

	records := s.queue.ListUnsynced(s.stationID)
	if len(records) == 0 {
		return nil
	}

	batch := models.SyncBatchRequest{StationID: s.stationID}
	for _, rec := range records {
		batch.CheckIns = append(batch.CheckIns, models.CheckInRequest{
			Credential:      rec.Credential,
			StationID:       rec.StationID,
			OperatorID:      rec.OperatorID,
			Method:          rec.Method,
			IsOfflineSync:   true,
			ClientTimestamp: rec.ClientTimestamp,
			LocalID:         rec.LocalID,
		})
	}

	response, err := s.submit(ctx, batch)
	if err != nil {
		s.lastSyncErr.Store(err.Error())
		return err
	}

	// Results match the request by position; a length mismatch means the
	// correlation is broken and nothing can safely be marked.
	if len(response.Results) != len(records) {
		err := fmt.Errorf("sync response has %d results for %d records", len(response.Results), len(records))
		s.lastSyncErr.Store(err.Error())
		return err
	}

	flushed := 0
	for i, result := range response.Results {
		rec := records[i]
		if result.Success {
			if err := s.queue.MarkSynced(rec.LocalID); err != nil {
				log.Printf("Warning: mark synced %s: %v", rec.LocalID, err)
				continue
			}
			flushed++
			continue
		}
		message := result.Error
		if message == "" {
			message = "rejected"
		}
		if err := s.queue.MarkSyncError(rec.LocalID, message); err != nil {
			log.Printf("Warning: mark sync error %s: %v", rec.LocalID, err)
		}
	}

	if _, err := s.queue.PurgeSynced(); err != nil {
		log.Printf("Warning: purge synced records: %v", err)
	}

	s.lastSyncAt.Store(time.Now().UnixMilli())
	s.lastSyncErr.Store("")
	s.totalFlushed.Add(int64(flushed))
	log.Printf("Station %s synced %d/%d records, %d still pending",
		s.stationID, flushed, len(records), s.queue.PendingCount(s.stationID))
	return nil
}

func (s *SyncClient) submit(ctx context.Context, batch models.SyncBatchRequest) (models.SyncBatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return models.SyncBatchResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/api/v1/checkin/sync", bytes.NewReader(body))
	if err != nil {
		return models.SyncBatchResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.SyncBatchResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.SyncBatchResponse{}, fmt.Errorf("sync endpoint returned %d", resp.StatusCode)
	}

	var response models.SyncBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return models.SyncBatchResponse{}, err
	}
	return response, nil
}
