package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"gatescan-backend/credential"
	"gatescan-backend/models"
	"gatescan-backend/station"
)

type config struct {
	stationID     string
	serverURL     string
	queuePath     string
	port          string
	syncInterval  time.Duration
	probeInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		stationID:     os.Getenv("STATION_ID"),
		serverURL:     os.Getenv("SERVER_URL"),
		queuePath:     os.Getenv("QUEUE_PATH"),
		port:          os.Getenv("AGENT_PORT"),
		syncInterval:  time.Duration(intEnv("SYNC_INTERVAL_SECONDS", 30)) * time.Second,
		probeInterval: time.Duration(intEnv("PROBE_INTERVAL_SECONDS", 10)) * time.Second,
	}
	if cfg.stationID == "" {
		log.Fatal("STATION_ID is required")
	}
	if cfg.serverURL == "" {
		cfg.serverURL = "http://localhost:8080"
	}
	if cfg.queuePath == "" {
		cfg.queuePath = "checkin-queue.json"
	}
	if cfg.port == "" {
		cfg.port = "8090"
	}
	return cfg
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}

// probeConnectivity polls the server health endpoint and feeds the sync
// client's connectivity channel. Sends are non-blocking; a missed probe
// is overtaken by the next one.
func probeConnectivity(ctx context.Context, serverURL string, interval time.Duration, out chan<- bool) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- probe():
			default:
			}
		}
	}
}

// sendHeartbeats reports liveness to the station registry while the
// server is reachable.
func sendHeartbeats(ctx context.Context, client *station.SyncClient, serverURL, stationID string, interval time.Duration) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !client.Online() {
				continue
			}
			url := serverURL + "/api/v1/stations/" + stationID + "/heartbeat"
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
			if err != nil {
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := httpClient.Do(req)
			if err != nil {
				log.Printf("Warning: heartbeat failed: %v", err)
				continue
			}
			resp.Body.Close()
		}
	}
}

type agent struct {
	cfg    config
	queue  *station.Queue
	sync   *station.SyncClient
	client *http.Client
}

type scanRequest struct {
	Credential string `json:"credential" binding:"required"`
	OperatorID string `json:"operator_id"`
	Method     string `json:"method"`
}

// Scan accepts one credential from the operator UI. Online scans go
// straight to the server; anything else lands in the local queue so the
// attendee keeps moving.
func (a *agent) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !credential.ValidateFormat(req.Credential) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Malformed credential"})
		return
	}
	if req.Method == "" {
		req.Method = models.MethodScan
	}

	if a.sync.Online() {
		status, result, err := a.forwardLive(c, req)
		if err == nil {
			c.JSON(status, result)
			return
		}
		log.Printf("Warning: live check-in failed, queueing locally: %v", err)
	}

	rec := station.NewRecord(req.Credential, a.cfg.stationID, req.OperatorID, req.Method)
	if err := a.queue.Enqueue(rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"queued":   true,
		"local_id": rec.LocalID,
		"pending":  a.queue.PendingCount(a.cfg.stationID),
	})
}

// forwardLive submits one scan to the server check-in endpoint. A
// transport error means the caller should queue instead; an HTTP error
// status is a real answer and is passed through.
func (a *agent) forwardLive(ctx context.Context, req scanRequest) (int, models.CheckInResult, error) {
	body, err := json.Marshal(models.CheckInRequest{
		Credential:      req.Credential,
		StationID:       a.cfg.stationID,
		OperatorID:      req.OperatorID,
		Method:          req.Method,
		ClientTimestamp: time.Now().UTC(),
	})
	if err != nil {
		return 0, models.CheckInResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.serverURL+"/api/v1/checkin", bytes.NewReader(body))
	if err != nil {
		return 0, models.CheckInResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, models.CheckInResult{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, models.CheckInResult{}, err
	}
	var result models.CheckInResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return 0, models.CheckInResult{}, err
	}
	return resp.StatusCode, result, nil
}

func (a *agent) Status(c *gin.Context) {
	status := gin.H{
		"station_id": a.cfg.stationID,
		"online":     a.sync.Online(),
		"pending":    a.queue.PendingCount(a.cfg.stationID),
	}
	if at := a.sync.LastSyncAt(); !at.IsZero() {
		status["last_sync_at"] = at
	}
	if msg := a.sync.LastSyncError(); msg != "" {
		status["last_sync_error"] = msg
	}
	c.JSON(http.StatusOK, status)
}

func (a *agent) SyncNow(c *gin.Context) {
	if err := a.sync.SyncNow(c); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pending": a.queue.PendingCount(a.cfg.stationID),
	})
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found, using default environment variables")
	}

	cfg := loadConfig()

	queue, err := station.Open(cfg.queuePath)
	if err != nil {
		log.Fatalf("Unable to open local queue %s: %v", cfg.queuePath, err)
	}
	log.Printf("Local queue %s: %d pending check-ins", cfg.queuePath, queue.PendingCount(cfg.stationID))

	connectivity := make(chan bool, 1)
	syncClient := station.NewSyncClient(queue, station.SyncOptions{
		StationID:    cfg.stationID,
		ServerURL:    cfg.serverURL,
		Interval:     cfg.syncInterval,
		Connectivity: connectivity,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go probeConnectivity(ctx, cfg.serverURL, cfg.probeInterval, connectivity)
	go syncClient.Run(ctx)
	go sendHeartbeats(ctx, syncClient, cfg.serverURL, cfg.stationID, cfg.probeInterval)

	a := &agent{
		cfg:    cfg,
		queue:  queue,
		sync:   syncClient,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	router := gin.Default()
	router.POST("/scan", a.Scan)
	router.POST("/sync", a.SyncNow)
	router.GET("/status", a.Status)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
	})

	server := &http.Server{
		Addr:    ":" + cfg.port,
		Handler: router,
	}

	go func() {
		log.Printf("Station agent %s listening on port %s", cfg.stationID, cfg.port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start agent: %v\n", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
