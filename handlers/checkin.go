package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gatescan-backend/credential"
	"gatescan-backend/models"
	"gatescan-backend/store"
)

// Reconciliation failure codes, returned in the "error" field.
const (
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyCheckedIn = "ALREADY_CHECKED_IN"
	CodeStationUnknown   = "STATION_UNKNOWN"
	CodeInternal         = "INTERNAL"
)

type CheckinHandler struct {
	store         store.TicketStore
	badgePriority int
}

func NewCheckinHandler(st store.TicketStore, badgePriority int) *CheckinHandler {
	return &CheckinHandler{store: st, badgePriority: badgePriority}
}

// CheckIn handles one live scan from an online station.
func (h *CheckinHandler) CheckIn(c *gin.Context) {
	var req models.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": CodeInvalidFormat, "message": err.Error()})
		return
	}

	req.IsOfflineSync = false
	result := h.process(c, req)
	c.JSON(statusForResult(result), result)
}

// SyncBatch drains one station's offline queue. Items are applied
// sequentially in request order and results are returned in the same
// order: the client correlates by position.
func (h *CheckinHandler) SyncBatch(c *gin.Context) {
	var req models.SyncBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": CodeInvalidFormat, "message": err.Error()})
		return
	}

	log.Printf("Sync batch from station %s: %d check-ins", req.StationID, len(req.CheckIns))

	results := make([]models.CheckInResult, 0, len(req.CheckIns))
	failed := 0
	for _, item := range req.CheckIns {
		item.IsOfflineSync = true
		if item.StationID == "" {
			item.StationID = req.StationID
		}
		result := h.process(c, item)
		if !result.Success {
			failed++
		}
		results = append(results, result)
	}

	// Failed items stay unsynced on the station, so they are its pending
	// count until the next cycle.
	if err := h.store.RecordSync(c, req.StationID, failed, time.Now().UTC()); err != nil {
		log.Printf("Warning: record sync for station %s: %v", req.StationID, err)
	}

	c.JSON(http.StatusOK, models.SyncBatchResponse{Success: true, Results: results})
}

// GetCheckins lists the check-in log for an event, newest first.
func (h *CheckinHandler) GetCheckins(c *gin.Context) {
	eventID := c.Param("id")

	logs, err := h.store.ListCheckIns(c, eventID)
	if err != nil {
		log.Printf("Error listing check-ins for event %s: %v", eventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkins": logs, "count": len(logs)})
}

// process applies one check-in attempt and never writes to the
// response; callers decide the HTTP shape.
func (h *CheckinHandler) process(c *gin.Context, req models.CheckInRequest) models.CheckInResult {
	if req.Method == "" {
		req.Method = models.MethodScan
	}

	result := models.CheckInResult{LocalID: req.LocalID}
	if !req.ClientTimestamp.IsZero() {
		ts := req.ClientTimestamp
		result.ClientTimestamp = &ts
	}

	if !validCredentialOrID(req.Credential) {
		result.Error = CodeInvalidFormat
		return result
	}

	ticket, err := h.store.ResolveTicket(c, req.Credential)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			result.Error = CodeNotFound
			return result
		}
		log.Printf("Error resolving ticket: %v", err)
		result.Error = CodeInternal
		return result
	}

	result.AttendeeName = ticket.AttendeeName
	result.AttendeeEmail = ticket.AttendeeEmail

	input := store.CheckInInput{
		TicketID:   ticket.ID.String(),
		StationID:  req.StationID,
		OperatorID: req.OperatorID,
		Method:     req.Method,
	}
	if req.IsOfflineSync && !req.ClientTimestamp.IsZero() {
		// Replayed scans keep their original wall-clock time.
		input.CheckedInAt = req.ClientTimestamp.UTC()
	}

	outcome, err := h.store.CheckInTicket(c, input)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStationNotFound):
			result.Error = CodeStationUnknown
		case errors.Is(err, store.ErrTicketNotFound):
			result.Error = CodeNotFound
		default:
			log.Printf("Error checking in ticket %s: %v", ticket.ID, err)
			result.Error = CodeInternal
		}
		return result
	}

	checkedInAt := outcome.CheckedInAt
	result.CheckedInAt = &checkedInAt

	if !outcome.Applied {
		switch store.ResolveDuplicate(outcome.CheckedInAt, req.ClientTimestamp, req.IsOfflineSync) {
		case store.DuplicateRejected:
			result.Error = CodeAlreadyCheckedIn
		case store.DuplicateConflict:
			// The replayed record predates the stored check-in; accept it
			// as synced but never move checked_in_at backward.
			result.Success = true
			result.Conflict = true
		default:
			result.Success = true
		}
		return result
	}

	result.Success = true
	result.CheckInLogID = outcome.CheckInLogID

	if ticket.BadgeRequired {
		_, err := h.store.EnqueueBadgeJob(c, store.EnqueueBadgeJobInput{
			TicketID:  ticket.ID.String(),
			StationID: req.StationID,
			Priority:  h.badgePriority,
			Payload: models.BadgePayload{
				AttendeeName:  ticket.AttendeeName,
				AttendeeEmail: ticket.AttendeeEmail,
				Company:       ticket.Company,
				TierName:      ticket.TierName,
				EventTitle:    ticket.EventTitle,
				Credential:    ticket.Credential,
			},
		})
		if err != nil {
			// The check-in is already committed; a lost badge job is an
			// operator-visible gap on the ops dashboard, not a failure of
			// the scan.
			log.Printf("Warning: enqueue badge job for ticket %s: %v", ticket.ID, err)
		}
	}

	return result
}

func validCredentialOrID(value string) bool {
	if strings.HasPrefix(value, "TICKET-") {
		return credential.ValidateFormat(value)
	}
	_, err := uuid.Parse(value)
	return err == nil
}

func statusForResult(result models.CheckInResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Error {
	case CodeInvalidFormat:
		return http.StatusBadRequest
	case CodeNotFound, CodeStationUnknown:
		return http.StatusNotFound
	case CodeAlreadyCheckedIn:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
