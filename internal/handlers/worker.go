package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
)

// WorkerHandler handles field worker endpoints. The worker id is the
// token subject.
type WorkerHandler struct {
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(reports *services.ReportService, logger *zap.SugaredLogger) *WorkerHandler {
	return &WorkerHandler{reports: reports, logger: logger}
}

// Queue handles GET /api/v1/worker/reports
func (h *WorkerHandler) Queue(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.WorkerQueue(r.Context(), principal(r).Subject, queryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, h.logger, "worker queue", err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

// Accept handles POST /api/v1/worker/reports/{seq}/accept
func (h *WorkerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	workerID := principal(r).Subject

	var report *models.Report
	err := withRetry(func() error {
		var err error
		report, err = h.reports.AssignWorker(r.Context(), seq, workerID, workerID)
		return err
	})
	if err != nil {
		writeServiceError(w, h.logger, "accept report", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Complete handles POST /api/v1/worker/reports/{seq}/complete (multipart
// form with "notes" and an optional "photo" of the cleaned site).
func (h *WorkerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	if !parseMultipart(w, r) {
		return
	}

	in := services.CompleteInput{
		WorkerID: principal(r).Subject,
		Notes:    r.FormValue("notes"),
	}
	var err error
	if in.AfterPhoto, in.PhotoType, err = readPhoto(r, "photo"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var report *models.Report
	err = withRetry(func() error {
		var err error
		report, err = h.reports.Complete(r.Context(), seq, in)
		return err
	})
	if err != nil {
		writeServiceError(w, h.logger, "complete report", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report":         report,
		"credits_earned": report.EstimatedCredits,
		"message":        "Report resolved. The citizen has been credited.",
	})
}
