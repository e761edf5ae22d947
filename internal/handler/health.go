package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Version is reported by / and the health endpoints.
const Version = "2.0.0"

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database is the primary store as seen by the detailed health check.
type Database interface {
	Pinger
	CountAPIKeys(ctx context.Context) (int, error)
}

// BreakerStater reports a circuit breaker state ("closed", "half-open", "open").
type BreakerStater interface {
	State() string
}

type HealthHandler struct {
	startTime time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startTime: time.Now()}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     int64  `json:"timestamp"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       Version,
		Timestamp:     time.Now().Unix(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// DetailedHealthHandler pings the database and any optional dependencies.
// The response is 503 when the database is unreachable; a failing optional
// dependency only marks the service degraded.
type DetailedHealthHandler struct {
	db       Database
	breaker  BreakerStater
	optional map[string]Pinger
	timeout  time.Duration
}

func NewDetailedHealthHandler(db Database, breaker BreakerStater, optional map[string]Pinger) *DetailedHealthHandler {
	return &DetailedHealthHandler{db: db, breaker: breaker, optional: optional, timeout: 2 * time.Second}
}

type DetailedHealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Timestamp    int64             `json:"timestamp"`
	Database     string            `json:"database"`
	TotalAPIKeys int               `json:"total_api_keys"`
	StoreBreaker string            `json:"store_breaker,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func (h *DetailedHealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := DetailedHealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Unix(),
		Database:  "connected",
	}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("database health check failed")
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	} else if total, err := h.db.CountAPIKeys(ctx); err != nil {
		log.Error().Err(err).Msg("failed to count API keys")
	} else {
		resp.TotalAPIKeys = total
	}
	if h.breaker != nil {
		resp.StoreBreaker = h.breaker.State()
	}

	if len(h.optional) > 0 {
		resp.Dependencies = make(map[string]string, len(h.optional))
		for name, p := range h.optional {
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("dependency health check failed")
				resp.Dependencies[name] = "unreachable"
				if status == http.StatusOK {
					resp.Status = "degraded"
				}
				continue
			}
			resp.Dependencies[name] = "connected"
		}
	}

	RespondJSON(w, status, resp)
}
