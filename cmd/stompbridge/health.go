package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/stompbridge/internal/archive"
	"github.com/rickgao/stompbridge/internal/bus"
	"github.com/rickgao/stompbridge/internal/connection"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

type backendHealth struct {
	URL             string `json:"url"`
	State           string `json:"state"`
	Subscriptions   int    `json:"subscriptions"`
	FramesForwarded int64  `json:"frames_forwarded"`
	FramesDropped   int64  `json:"frames_dropped"`
	PublishErrors   int64  `json:"publish_errors"`
	Errors          int64  `json:"errors"`
	Reconnects      int64  `json:"reconnects"`
}

// createHealthHandler creates the HTTP handler for health checks.
// writer and db may be nil when archiving is disabled.
func createHealthHandler(backends []*backend, local *bus.Local, writer *archive.Writer, db pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		connected := 0
		backendsHealth := make(map[string]backendHealth, len(backends))
		for _, b := range backends {
			stats := b.manager.Stats()
			if stats.State == connection.StateConnected {
				connected++
			}
			backendsHealth[b.name] = backendHealth{
				URL:             b.manager.URL(),
				State:           stats.State.String(),
				Subscriptions:   stats.Subscriptions,
				FramesForwarded: stats.FramesForwarded,
				FramesDropped:   stats.FramesDropped,
				PublishErrors:   stats.PublishErrors,
				Errors:          stats.ErrorsDelivered,
				Reconnects:      stats.Reconnects,
			}
		}
		health.Components["backends"] = backendsHealth

		switch {
		case connected == 0 && len(backends) > 0:
			health.Status = "unhealthy"
		case connected < len(backends):
			health.Status = "degraded"
		}

		health.Components["bus"] = local.Stats()

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["archive_db"] = "connected"
			}
		}
		if writer != nil {
			health.Components["archive_writer"] = writer.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response failed", "error", err)
		}
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		destinations := make(map[string][]string, len(backends))
		for _, b := range backends {
			destinations[b.name] = b.manager.Destinations()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"backends":     destinations,
			"bus_patterns": local.Patterns(),
		}); err != nil {
			logger.Debug("write subscriptions response failed", "error", err)
		}
	})

	return mux
}
