package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danuarta/archive-management/internal/cache"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

type HealthHandler struct {
	db    *sql.DB
	store *cache.Store
}

func NewHealthHandler(db *sql.DB, store *cache.Store) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// HandleLiveness → just says service is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleReadiness → checks the database and the cache backend. A down cache
// degrades the response but never fails it: reads fall through to the
// database and the service stays usable.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]CheckEntry{
		"postgres": h.checkPostgres(ctx),
		"cache":    h.checkCache(ctx),
	}

	overall := HealthHealthy
	statusCode := http.StatusOK
	if components["cache"].Status == HealthUnhealthy {
		overall = HealthDegraded
	}
	if components["postgres"].Status == HealthUnhealthy {
		overall = HealthUnhealthy
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:     overall,
		CheckedAt:  time.Now(),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkPostgres(ctx context.Context) CheckEntry {
	start := time.Now()
	err := h.db.PingContext(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}

func (h *HealthHandler) checkCache(ctx context.Context) CheckEntry {
	start := time.Now()
	entry := CheckEntry{
		Status:    HealthHealthy,
		CheckedAt: time.Now(),
	}

	stats, ok := h.store.Stats(ctx)
	entry.DurationMs = time.Since(start).Milliseconds()
	if !ok {
		entry.Status = HealthUnhealthy
		entry.Message = "cache backend unavailable"
		return entry
	}

	entry.Details = map[string]any{
		"keys":   stats.Keys,
		"hits":   stats.Hits,
		"misses": stats.Misses,
	}
	return entry
}
