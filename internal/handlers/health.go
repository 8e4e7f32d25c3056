package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
	"github.com/greencredits/report-server/internal/store"
)

const version = "1.0.0"

var startTime = time.Now()

// HealthHandler provides health check endpoints
type HealthHandler struct {
	store  store.Store
	merkle *services.MerkleService
	logger *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st store.Store, merkle *services.MerkleService, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{store: st, merkle: merkle, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:     "ok",
		Version:    version,
		Uptime:     time.Since(startTime).String(),
		LedgerRoot: h.merkle.GetRoot(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warnw("Readiness check failed", "driver", h.store.Dialect(), "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:   "not ready",
			Version:  version,
			Database: "disconnected",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:     "ready",
		Version:    version,
		Uptime:     time.Since(startTime).String(),
		Database:   h.store.Dialect(),
		LedgerRoot: h.merkle.GetRoot(),
	})
}
