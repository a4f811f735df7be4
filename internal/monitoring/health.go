package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu             sync.RWMutex
	schedulerAlive bool
	lastScan       time.Time
	lastTrade      time.Time
	breakerTripped bool
	errors         []string
}

type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	SchedulerAlive bool      `json:"scheduler_alive"`
	LastScan       time.Time `json:"last_scan"`
	LastTrade      time.Time `json:"last_trade"`
	BreakerTripped bool      `json:"breaker_tripped"`
	Uptime         string    `json:"uptime"`
	Errors         []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetSchedulerAlive marks whether the execution loop is running
func (h *HealthChecker) SetSchedulerAlive(alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedulerAlive = alive
}

// RecordScanTime updates the last scan timestamp
func (h *HealthChecker) RecordScanTime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastScan = t
}

// RecordTradeTime updates the last trade timestamp
func (h *HealthChecker) RecordTradeTime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTrade = t
}

// SetBreakerTripped mirrors the circuit breaker state into health output
func (h *HealthChecker) SetBreakerTripped(tripped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerTripped = tripped
}

// RecordHealthError appends an error to the health report
func (h *HealthChecker) RecordHealthError(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, message)
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.schedulerAlive || h.breakerTripped {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		SchedulerAlive: h.schedulerAlive,
		LastScan:       h.lastScan,
		LastTrade:      h.lastTrade,
		BreakerTripped: h.breakerTripped,
		Uptime:         time.Since(startTime).String(),
		Errors:         h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
