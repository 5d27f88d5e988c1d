// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dj-epidemik/backend/internal/api/middleware"
)

// Pinger checks database connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// SyncScheduler reports the next scheduled feed import.
type SyncScheduler interface {
	NextRun() *time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		middleware.WriteJSON(w, code, HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Version          string `json:"version"`
	FeedConfigured   bool   `json:"feed_configured"`
	WebsocketClients int    `json:"websocket_clients"`
	NextSyncAt       string `json:"next_sync_at,omitempty"`
}

// Status returns a handler that provides system status information.
// scheduler may be nil when feed import is disabled.
func Status(version string, feedConfigured bool, hub ClientCounter, scheduler SyncScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := StatusResponse{
			Version:          version,
			FeedConfigured:   feedConfigured,
			WebsocketClients: hub.ClientCount(),
		}
		if scheduler != nil {
			if next := scheduler.NextRun(); next != nil {
				response.NextSyncAt = next.UTC().Format(time.RFC3339)
			}
		}

		middleware.WriteJSON(w, http.StatusOK, response)
	}
}
