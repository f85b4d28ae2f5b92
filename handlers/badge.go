package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gatescan-backend/models"
	"gatescan-backend/store"
)

type BadgeHandler struct {
	store store.TicketStore
}

func NewBadgeHandler(st store.TicketStore) *BadgeHandler {
	return &BadgeHandler{store: st}
}

// ClaimNext hands the highest-priority pending job to a print worker.
// Returns 204 when nothing is eligible.
func (h *BadgeHandler) ClaimNext(c *gin.Context) {
	var req models.ClaimBadgeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, ok, err := h.store.ClaimNextBadgeJob(c, req.PrinterID, req.StationID)
	if err != nil {
		log.Printf("Error claiming badge job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	log.Printf("Badge job %s claimed by printer %q", job.ID, req.PrinterID)
	c.JSON(http.StatusOK, job)
}

func (h *BadgeHandler) Complete(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.store.CompleteBadgeJob(c, jobID)
	if err != nil {
		writeJobError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *BadgeHandler) Fail(c *gin.Context) {
	jobID := c.Param("id")

	var req models.FailBadgeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.store.FailBadgeJob(c, jobID, req.Error)
	if err != nil {
		writeJobError(c, jobID, err)
		return
	}

	log.Printf("Badge job %s failed: %s", jobID, req.Error)
	c.JSON(http.StatusOK, job)
}

// Retry requeues a failed job. Operator action only; the queue never
// retries printer failures on its own.
func (h *BadgeHandler) Retry(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.store.RetryBadgeJob(c, jobID)
	if err != nil {
		writeJobError(c, jobID, err)
		return
	}

	log.Printf("Badge job %s requeued by operator (retry %d)", jobID, job.RetryCount)
	c.JSON(http.StatusOK, job)
}

// List returns badge jobs plus counts-by-status, filterable by station
// and status, for the operations view.
func (h *BadgeHandler) List(c *gin.Context) {
	filter := store.BadgeJobFilter{
		StationID: c.Query("station_id"),
		Status:    c.Query("status"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.store.ListBadgeJobs(c, filter)
	if err != nil {
		log.Printf("Error listing badge jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	summary, err := h.store.BadgeQueueSummary(c, filter.StationID)
	if err != nil {
		log.Printf("Error summarizing badge queue: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":    jobs,
		"count":   len(jobs),
		"summary": summary,
	})
}

func writeJobError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Badge job not found"})
	case errors.Is(err, store.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "Badge job is not in a state that allows this transition"})
	default:
		log.Printf("Error updating badge job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	}
}
