// Package handlers contains HTTP request handlers for the report API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/middleware"
	"github.com/greencredits/report-server/internal/services"
)

const (
	maxJSONBody   = 1 << 20
	maxPhotoSize  = 10 << 20
	conflictTries = 3
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// seqParam reads the {seq} URL parameter.
func seqParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
	if err != nil || seq <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid report number")
		return 0, false
	}
	return seq, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func principal(r *http.Request) middleware.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// withRetry retries fn while it fails with a persistence conflict.
func withRetry(fn func() error) error {
	var err error
	for i := 0; i < conflictTries; i++ {
		err = fn()
		if !errors.Is(err, services.ErrPersistenceConflict) {
			return err
		}
	}
	return err
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, op string, err error) {
	var (
		validation   *services.ValidationError
		duplicate    *services.DuplicateSubmissionError
		insufficient *services.InsufficientCreditsError
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.As(err, &duplicate):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":           duplicate.Error(),
			"existing_report": duplicate.ReportSeq,
		})
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":     insufficient.Error(),
			"available": insufficient.Available,
			"cost":      insufficient.Cost,
			"shortfall": insufficient.Shortfall,
		})
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrUnknownReward):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrStaleTransition),
		errors.Is(err, services.ErrAlreadyAssigned),
		errors.Is(err, services.ErrAccountExists),
		errors.Is(err, services.ErrPersistenceConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrNotAssignee), errors.Is(err, services.ErrWrongZone):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPersistenceTimeout):
		logger.Warnw("Persistence timeout", "op", op, "error", err)
		respondError(w, http.StatusGatewayTimeout, "Request timed out, please retry")
	default:
		logger.Errorw("Request failed", "op", op, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}
