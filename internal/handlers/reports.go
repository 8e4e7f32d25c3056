package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/middleware"
	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
	"github.com/greencredits/report-server/internal/store"
)

// ReportHandler handles citizen report endpoints
type ReportHandler struct {
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *services.ReportService, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// Submit handles POST /api/v1/reports (multipart form with an optional
// "photo" file).
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}

	sub := models.ReportSubmission{
		SubmitterID: principal(r).Subject,
		Description: r.FormValue("description"),
		Category:    models.Category(strings.ToLower(strings.TrimSpace(r.FormValue("category")))),
		Severity:    models.Severity(strings.ToLower(strings.TrimSpace(r.FormValue("severity")))),
		Address:     r.FormValue("address"),
	}

	var err error
	if sub.Location.Lat, err = formFloat(r, "lat"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sub.Location.Lng, err = formFloat(r, "lng"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := strings.TrimSpace(r.FormValue("ai_confidence")); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "ai_confidence: not a number")
			return
		}
		sub.AIConfidence = &c
	}

	if sub.Photo, sub.PhotoType, err = readPhoto(r, "photo"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reports.Submit(r.Context(), &sub)
	if err != nil {
		writeServiceError(w, h.logger, "submit report", err)
		return
	}
	respondJSON(w, http.StatusCreated, services.Result(report))
}

// Mine handles GET /api/v1/reports/mine
func (h *ReportHandler) Mine(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context(), store.ReportFilter{
		SubmitterID: principal(r).Subject,
		Limit:       queryInt(r, "limit", 50),
	})
	if err != nil {
		writeServiceError(w, h.logger, "list own reports", err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

// Get handles GET /api/v1/reports/{seq}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, ok := h.visibleReport(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Events handles GET /api/v1/reports/{seq}/events
func (h *ReportHandler) Events(w http.ResponseWriter, r *http.Request) {
	report, ok := h.visibleReport(w, r)
	if !ok {
		return
	}
	events, err := h.reports.Events(r.Context(), report.Seq)
	if err != nil {
		writeServiceError(w, h.logger, "report events", err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// Heatmap handles GET /api/v1/heatmap
func (h *ReportHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	points, err := h.reports.Heatmap(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "heatmap", err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// visibleReport loads the {seq} report. Citizens only see their own.
func (h *ReportHandler) visibleReport(w http.ResponseWriter, r *http.Request) (*models.Report, bool) {
	seq, ok := seqParam(w, r)
	if !ok {
		return nil, false
	}
	report, err := h.reports.Get(r.Context(), seq)
	if err != nil {
		writeServiceError(w, h.logger, "get report", err)
		return nil, false
	}
	p := principal(r)
	if p.Role == middleware.RoleCitizen && report.SubmitterID != p.Subject {
		respondError(w, http.StatusNotFound, "Report not found")
		return nil, false
	}
	return report, true
}

func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+maxJSONBody)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return false
	}
	return true
}

func formFloat(r *http.Request, key string) (float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not a number", key)
	}
	return f, nil
}

// readPhoto returns the uploaded file and its content type. A missing
// file is not an error.
func readPhoto(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: unreadable upload", field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%s: unreadable upload", field)
	}
	if len(data) > maxPhotoSize {
		return nil, "", fmt.Errorf("%s: larger than %d MB", field, maxPhotoSize>>20)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%s: must be an image", field)
	}
	return data, contentType, nil
}
