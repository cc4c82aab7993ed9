package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// pendingAlert is the backlog size reported as an error without failing the check.
const pendingAlert = 1000

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsProcessed   uint64    `json:"events_processed"`
	LastEventTime     time.Time `json:"last_event_time"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	RelayRunning      bool      `json:"relay_running"`
	Errors            []string  `json:"errors"`
}

// Backlog is the repository surface the health check reads.
type Backlog interface {
	Ping(ctx context.Context) error
	CountPending(ctx context.Context) (int, error)
}

// RelayStats is satisfied by *Relay.
type RelayStats interface {
	Stats() (processed uint64, lastEvent time.Time, running bool)
}

// HealthChecker reports whether the relay is keeping up with the outbox.
type HealthChecker struct {
	relay     RelayStats
	backlog   Backlog
	clock     clockwork.Clock
	threshold time.Duration // how long pending rows may sit without progress
}

func NewHealthChecker(relay RelayStats, backlog Backlog, clk clockwork.Clock, threshold time.Duration) *HealthChecker {
	return &HealthChecker{relay: relay, backlog: backlog, clock: clk, threshold: threshold}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}
	status.EventsProcessed, status.LastEventTime, status.RelayRunning = h.relay.Stats()

	if !status.RelayRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "relay not running")
	}

	if err := h.backlog.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		return status
	}
	status.DatabaseConnected = true

	pending, err := h.backlog.CountPending(ctx)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
		return status
	}
	status.PendingEvents = pending
	if pending > pendingAlert {
		status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
	}

	if pending > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write outbox health response")
	}
}
