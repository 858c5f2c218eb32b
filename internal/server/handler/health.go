package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/feed"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// FeedStatus reports the live state of the streaming feed connection. The
// feed manager satisfies it; in server-only mode it is nil.
type FeedStatus interface {
	State() feed.State
	ConfirmedSymbols() []string
}

// StatusHandler serves the backend status (mode, feed state) for dashboards.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	Feed      FeedStatus
	Snapshots interface{ Len() int }
}

// NewStatusHandler creates a StatusHandler. feed and snapshots may be nil
// when the process does not run the ingestion pipeline.
func NewStatusHandler(mode string, feed FeedStatus, snapshots interface{ Len() int }) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		Feed:      feed,
		Snapshots: snapshots,
	}
}

// GetStatus responds with the current backend mode, uptime, and feed state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int(time.Since(h.StartedAt).Seconds()),
	}
	if h.Feed != nil {
		resp["feed_state"] = h.Feed.State().String()
		resp["subscribed_symbols"] = h.Feed.ConfirmedSymbols()
	}
	if h.Snapshots != nil {
		resp["tracked_symbols"] = h.Snapshots.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
