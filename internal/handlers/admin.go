package handlers

import (
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/middleware"
	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
	"github.com/greencredits/report-server/internal/store"
)

// AdminHandler handles officer endpoints: review, assignment and stats.
type AdminHandler struct {
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(reports *services.ReportService, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{reports: reports, logger: logger}
}

type verifyRequest struct {
	Notes string `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type assignRequest struct {
	WorkerID string `json:"worker_id"`
}

type workerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Zone string `json:"zone"`
}

// List handles GET /api/v1/admin/reports?zone=..&status=..
// Both parameters accept comma-separated values. Officers assigned to
// zones only see those zones.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zones, ok := scopeZones(w, principal(r), splitParam(q.Get("zone")))
	if !ok {
		return
	}
	f := store.ReportFilter{
		Zones: zones,
		Limit: queryInt(r, "limit", 100),
	}
	for _, s := range splitParam(q.Get("status")) {
		f.Statuses = append(f.Statuses, models.Status(s))
	}

	reports, err := h.reports.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "list reports", err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

// Stats handles GET /api/v1/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	zones, ok := scopeZones(w, principal(r), nil)
	if !ok {
		return
	}
	stats, err := h.reports.ZoneStats(r.Context(), zones...)
	if err != nil {
		writeServiceError(w, h.logger, "zone stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Verify handles POST /api/v1/admin/reports/{seq}/verify
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	officer := principal(r).Subject
	h.transition(w, "verify report", func() (*models.Report, error) {
		return h.reports.Verify(r.Context(), seq, officer, req.Notes)
	})
}

// Reject handles POST /api/v1/admin/reports/{seq}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	officer := principal(r).Subject
	h.transition(w, "reject report", func() (*models.Report, error) {
		return h.reports.Reject(r.Context(), seq, officer, req.Reason)
	})
}

// Assign handles POST /api/v1/admin/reports/{seq}/assign
func (h *AdminHandler) Assign(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		respondError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	officer := principal(r).Subject
	h.transition(w, "assign report", func() (*models.Report, error) {
		return h.reports.AssignWorker(r.Context(), seq, req.WorkerID, officer)
	})
}

// RegisterWorker handles POST /api/v1/admin/workers
func (h *AdminHandler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	worker, err := h.reports.RegisterWorker(r.Context(), &models.Worker{
		ID:   req.ID,
		Name: req.Name,
		Zone: req.Zone,
	})
	if err != nil {
		writeServiceError(w, h.logger, "register worker", err)
		return
	}
	h.logger.Infow("Worker registered", "worker", worker.ID, "zone", worker.Zone, "by", principal(r).Subject)
	respondJSON(w, http.StatusCreated, worker)
}

func (h *AdminHandler) transition(w http.ResponseWriter, op string, fn func() (*models.Report, error)) {
	var report *models.Report
	err := withRetry(func() error {
		var err error
		report, err = fn()
		return err
	})
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// scopeZones narrows requested to the zones a zone-scoped officer carries.
// An empty request means all of them; asking for any other zone is refused.
func scopeZones(w http.ResponseWriter, p middleware.Principal, requested []string) ([]string, bool) {
	if !p.ZoneScoped() {
		return requested, true
	}
	if len(requested) == 0 {
		return p.Zones, true
	}
	for _, z := range requested {
		if !slices.Contains(p.Zones, z) {
			respondError(w, http.StatusForbidden, "zone "+z+" is outside your assignment")
			return nil, false
		}
	}
	return requested, true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, v)
}

func splitParam(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
