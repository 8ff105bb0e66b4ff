package api

import (
	"context"
	"net/http"
	"time"

	"github.com/digilab/digibot/internal/log"
)

// Pinger checks reachability of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler serves liveness and readiness probes.
type healthHandler struct {
	db     Pinger
	logger log.Logger
}

// health handles GET /health. Liveness only: the process is up.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// ready handles GET /ready. Readiness includes the database: a pool
// that cannot ping means exchanges would fail, so the probe does too.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("readiness ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			}, h.logger)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, h.logger)
}
