package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gatescan-backend/models"
	"gatescan-backend/store"
)

type fakeStore struct {
	resolveFn    func(ctx context.Context, credentialOrID string) (models.Ticket, error)
	checkInFn    func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error)
	listLogsFn   func(ctx context.Context, eventID string) ([]models.CheckInLog, error)
	enqueueFn    func(ctx context.Context, input store.EnqueueBadgeJobInput) (models.BadgeJob, error)
	claimFn      func(ctx context.Context, printerID, stationID string) (models.BadgeJob, bool, error)
	completeFn   func(ctx context.Context, jobID string) (models.BadgeJob, error)
	failFn       func(ctx context.Context, jobID, message string) (models.BadgeJob, error)
	retryFn      func(ctx context.Context, jobID string) (models.BadgeJob, error)
	listJobsFn   func(ctx context.Context, filter store.BadgeJobFilter) ([]models.BadgeJob, error)
	summaryFn    func(ctx context.Context, stationID string) (models.BadgeQueueSummary, error)
	getStationFn func(ctx context.Context, stationID string) (models.Station, error)
	heartbeatFn  func(ctx context.Context, stationID string, at time.Time) error
	recordSyncFn func(ctx context.Context, stationID string, pendingCount int, at time.Time) error
	stationsFn   func(ctx context.Context, eventID string) ([]models.Station, error)
}

func (f fakeStore) ResolveTicket(ctx context.Context, credentialOrID string) (models.Ticket, error) {
	if f.resolveFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.resolveFn(ctx, credentialOrID)
}

func (f fakeStore) CheckInTicket(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
	if f.checkInFn == nil {
		return store.CheckInOutcome{}, nil
	}
	return f.checkInFn(ctx, input)
}

func (f fakeStore) ListCheckIns(ctx context.Context, eventID string) ([]models.CheckInLog, error) {
	if f.listLogsFn == nil {
		return nil, nil
	}
	return f.listLogsFn(ctx, eventID)
}

func (f fakeStore) EnqueueBadgeJob(ctx context.Context, input store.EnqueueBadgeJobInput) (models.BadgeJob, error) {
	if f.enqueueFn == nil {
		return models.BadgeJob{}, nil
	}
	return f.enqueueFn(ctx, input)
}

func (f fakeStore) ClaimNextBadgeJob(ctx context.Context, printerID, stationID string) (models.BadgeJob, bool, error) {
	if f.claimFn == nil {
		return models.BadgeJob{}, false, nil
	}
	return f.claimFn(ctx, printerID, stationID)
}

func (f fakeStore) CompleteBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error) {
	if f.completeFn == nil {
		return models.BadgeJob{}, nil
	}
	return f.completeFn(ctx, jobID)
}

func (f fakeStore) FailBadgeJob(ctx context.Context, jobID, message string) (models.BadgeJob, error) {
	if f.failFn == nil {
		return models.BadgeJob{}, nil
	}
	return f.failFn(ctx, jobID, message)
}

func (f fakeStore) RetryBadgeJob(ctx context.Context, jobID string) (models.BadgeJob, error) {
	if f.retryFn == nil {
		return models.BadgeJob{}, nil
	}
	return f.retryFn(ctx, jobID)
}

func (f fakeStore) ListBadgeJobs(ctx context.Context, filter store.BadgeJobFilter) ([]models.BadgeJob, error) {
	if f.listJobsFn == nil {
		return nil, nil
	}
	return f.listJobsFn(ctx, filter)
}

func (f fakeStore) BadgeQueueSummary(ctx context.Context, stationID string) (models.BadgeQueueSummary, error) {
	if f.summaryFn == nil {
		return models.BadgeQueueSummary{}, nil
	}
	return f.summaryFn(ctx, stationID)
}

func (f fakeStore) GetStation(ctx context.Context, stationID string) (models.Station, error) {
	if f.getStationFn == nil {
		return models.Station{}, store.ErrStationNotFound
	}
	return f.getStationFn(ctx, stationID)
}

func (f fakeStore) Heartbeat(ctx context.Context, stationID string, at time.Time) error {
	if f.heartbeatFn == nil {
		return nil
	}
	return f.heartbeatFn(ctx, stationID, at)
}

func (f fakeStore) RecordSync(ctx context.Context, stationID string, pendingCount int, at time.Time) error {
	if f.recordSyncFn == nil {
		return nil
	}
	return f.recordSyncFn(ctx, stationID, pendingCount, at)
}

func (f fakeStore) ListStations(ctx context.Context, eventID string) ([]models.Station, error) {
	if f.stationsFn == nil {
		return nil, nil
	}
	return f.stationsFn(ctx, eventID)
}

const testCredential = "TICKET-abc-evt1-1700000000000-Q3F7"

func testTicket() models.Ticket {
	return models.Ticket{
		ID:            uuid.MustParse("6f1b24d0-0000-4000-8000-000000000001"),
		EventID:       "evt1",
		Credential:    testCredential,
		AttendeeName:  "Ada Lovelace",
		AttendeeEmail: "ada@example.com",
		TierName:      "VIP",
		BadgeRequired: true,
		EventTitle:    "GopherConf",
	}
}

func newCheckinRouter(st store.TicketStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewCheckinHandler(st, 5)
	router.POST("/api/v1/checkin", handler.CheckIn)
	router.POST("/api/v1/checkin/sync", handler.SyncBatch)
	router.GET("/api/v1/events/:id/checkins", handler.GetCheckins)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLiveCheckInSuccess(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var enqueued *store.EnqueueBadgeJobInput

	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			if credentialOrID != testCredential {
				t.Fatalf("resolved wrong credential: %s", credentialOrID)
			}
			return testTicket(), nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			if input.StationID != "st-1" {
				t.Fatalf("wrong station: %s", input.StationID)
			}
			return store.CheckInOutcome{Applied: true, CheckInLogID: "log-1", CheckedInAt: now}, nil
		},
		enqueueFn: func(ctx context.Context, input store.EnqueueBadgeJobInput) (models.BadgeJob, error) {
			enqueued = &input
			return models.BadgeJob{ID: "job-1"}, nil
		},
	}

	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin", models.CheckInRequest{
		Credential: testCredential,
		StationID:  "st-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result models.CheckInResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.CheckInLogID != "log-1" || result.AttendeeName != "Ada Lovelace" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if enqueued == nil {
		t.Fatal("badge job not enqueued")
	}
	if enqueued.Priority != 5 || enqueued.Payload.TierName != "VIP" || enqueued.Payload.EventTitle != "GopherConf" {
		t.Fatalf("badge payload not snapshotted at enqueue: %+v", enqueued)
	}
}

func TestLiveCheckInDuplicateRejected(t *testing.T) {
	storedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			ticket := testTicket()
			ticket.CheckedIn = true
			ticket.CheckedInAt = &storedAt
			return ticket, nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			return store.CheckInOutcome{Applied: false, CheckedInAt: storedAt}, nil
		},
	}

	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin", models.CheckInRequest{
		Credential: testCredential,
		StationID:  "st-1",
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var result models.CheckInResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Error != CodeAlreadyCheckedIn {
		t.Fatalf("error = %q, want %q", result.Error, CodeAlreadyCheckedIn)
	}
	if result.CheckedInAt == nil || !result.CheckedInAt.Equal(storedAt) {
		t.Fatal("stored check-in time not returned for operator display")
	}
}

func TestLiveCheckInMalformedCredential(t *testing.T) {
	rec := postJSON(t, newCheckinRouter(fakeStore{}), "/api/v1/checkin", models.CheckInRequest{
		Credential: "TICKET-oops",
		StationID:  "st-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLiveCheckInTicketNotFound(t *testing.T) {
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			return models.Ticket{}, store.ErrTicketNotFound
		},
	}
	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin", models.CheckInRequest{
		Credential: testCredential,
		StationID:  "st-1",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLiveCheckInUnknownStation(t *testing.T) {
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			return testTicket(), nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			return store.CheckInOutcome{}, store.ErrStationNotFound
		},
	}
	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin", models.CheckInRequest{
		Credential: testCredential,
		StationID:  "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var result models.CheckInResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Error != CodeStationUnknown {
		t.Fatalf("error = %q, want %q", result.Error, CodeStationUnknown)
	}
}

func TestCheckInSkipsBadgeWhenTierOptsOut(t *testing.T) {
	enqueued := false
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			ticket := testTicket()
			ticket.BadgeRequired = false
			return ticket, nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			return store.CheckInOutcome{Applied: true, CheckInLogID: "log-1", CheckedInAt: time.Now()}, nil
		},
		enqueueFn: func(ctx context.Context, input store.EnqueueBadgeJobInput) (models.BadgeJob, error) {
			enqueued = true
			return models.BadgeJob{}, nil
		},
	}

	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin", models.CheckInRequest{
		Credential: testCredential,
		StationID:  "st-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if enqueued {
		t.Fatal("badge job enqueued for a tier that opted out")
	}
}

func TestSyncBatchPreservesOrderAndResolvesDuplicates(t *testing.T) {
	storedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	applied := 0
	var syncedPending []int

	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			return testTicket(), nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			applied++
			if applied == 1 {
				return store.CheckInOutcome{Applied: true, CheckInLogID: "log-1", CheckedInAt: storedAt}, nil
			}
			// Subsequent replays of the same ticket observe the first
			// writer's committed state.
			return store.CheckInOutcome{Applied: false, CheckedInAt: storedAt}, nil
		},
		recordSyncFn: func(ctx context.Context, stationID string, pendingCount int, at time.Time) error {
			syncedPending = append(syncedPending, pendingCount)
			return nil
		},
	}

	later := storedAt.Add(2 * time.Minute)
	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin/sync", models.SyncBatchRequest{
		StationID: "st-1",
		CheckIns: []models.CheckInRequest{
			{Credential: testCredential, LocalID: "local-1", ClientTimestamp: storedAt},
			{Credential: testCredential, LocalID: "local-2", ClientTimestamp: later},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp models.SyncBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].LocalID != "local-1" || resp.Results[1].LocalID != "local-2" {
		t.Fatal("results do not match request order")
	}
	if !resp.Results[0].Success || resp.Results[0].CheckInLogID != "log-1" {
		t.Fatalf("first item should win: %+v", resp.Results[0])
	}
	// The second replay is an idempotent no-op: success, no new log.
	if !resp.Results[1].Success || resp.Results[1].CheckInLogID != "" {
		t.Fatalf("duplicate replay not resolved idempotently: %+v", resp.Results[1])
	}
	if resp.Results[1].Conflict {
		t.Fatal("later replay wrongly flagged as conflict")
	}
	if len(syncedPending) != 1 || syncedPending[0] != 0 {
		t.Fatalf("registry not updated with pending=0: %v", syncedPending)
	}
}

func TestSyncBatchFlagsClockSkewConflict(t *testing.T) {
	storedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			return testTicket(), nil
		},
		checkInFn: func(ctx context.Context, input store.CheckInInput) (store.CheckInOutcome, error) {
			return store.CheckInOutcome{Applied: false, CheckedInAt: storedAt}, nil
		},
	}

	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin/sync", models.SyncBatchRequest{
		StationID: "st-1",
		CheckIns: []models.CheckInRequest{
			{Credential: testCredential, LocalID: "local-1", ClientTimestamp: storedAt.Add(-time.Minute)},
		},
	})

	var resp models.SyncBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	result := resp.Results[0]
	if !result.Success || !result.Conflict {
		t.Fatalf("earlier offline record should sync with a conflict flag: %+v", result)
	}
	if result.CheckedInAt == nil || !result.CheckedInAt.Equal(storedAt) {
		t.Fatal("visible check-in time regressed")
	}
}

func TestSyncBatchReportsFailedItemsAsPending(t *testing.T) {
	var reported int
	st := fakeStore{
		resolveFn: func(ctx context.Context, credentialOrID string) (models.Ticket, error) {
			return models.Ticket{}, store.ErrTicketNotFound
		},
		recordSyncFn: func(ctx context.Context, stationID string, pendingCount int, at time.Time) error {
			reported = pendingCount
			return nil
		},
	}

	rec := postJSON(t, newCheckinRouter(st), "/api/v1/checkin/sync", models.SyncBatchRequest{
		StationID: "st-1",
		CheckIns: []models.CheckInRequest{
			{Credential: testCredential, LocalID: "local-1"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (batch transport succeeded)", rec.Code)
	}
	var resp models.SyncBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Results[0].Success || resp.Results[0].Error != CodeNotFound {
		t.Fatalf("unexpected result: %+v", resp.Results[0])
	}
	if reported != 1 {
		t.Fatalf("pending count reported = %d, want 1", reported)
	}
}

func TestGetCheckins(t *testing.T) {
	st := fakeStore{
		listLogsFn: func(ctx context.Context, eventID string) ([]models.CheckInLog, error) {
			if eventID != "evt1" {
				t.Fatalf("wrong event id: %s", eventID)
			}
			return []models.CheckInLog{{ID: "log-1", EventID: "evt1"}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/evt1/checkins", nil)
	rec := httptest.NewRecorder()
	newCheckinRouter(st).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
