package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gatescan-backend/store"
)

type StationHandler struct {
	store store.TicketStore
}

func NewStationHandler(st store.TicketStore) *StationHandler {
	return &StationHandler{store: st}
}

func (h *StationHandler) Heartbeat(c *gin.Context) {
	stationID := c.Param("id")

	if err := h.store.Heartbeat(c, stationID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrStationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Station not found"})
			return
		}
		log.Printf("Error recording heartbeat for station %s: %v", stationID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RecordSync lets a station report its sync health outside of a batch,
// e.g. after a transport failure left everything unsynced.
func (h *StationHandler) RecordSync(c *gin.Context) {
	stationID := c.Param("id")

	var req struct {
		PendingCount int `json:"pending_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.RecordSync(c, stationID, req.PendingCount, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrStationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Station not found"})
			return
		}
		log.Printf("Error recording sync for station %s: %v", stationID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StationHandler) List(c *gin.Context) {
	stations, err := h.store.ListStations(c, c.Query("event_id"))
	if err != nil {
		log.Printf("Error listing stations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stations": stations, "count": len(stations)})
}
