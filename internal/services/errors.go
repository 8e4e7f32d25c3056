package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/store"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStaleTransition     = errors.New("report is already closed")
	ErrAlreadyAssigned     = errors.New("report already assigned")
	ErrNotAssignee         = errors.New("worker is not assigned to this report")
	ErrWrongZone           = errors.New("worker does not serve this zone")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPersistenceTimeout  = errors.New("persistence timeout")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrNotFound            = errors.New("not found")
	ErrAccountExists       = errors.New("credit account already exists")
	ErrUnknownReward       = errors.New("unknown reward")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateSubmissionError points at the report that already holds the photo.
type DuplicateSubmissionError struct {
	ReportSeq int64
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("photo already submitted with report #%d", e.ReportSeq)
}

func (e *DuplicateSubmissionError) Unwrap() error { return ErrDuplicateSubmission }

// TransitionError is returned when a lifecycle action is not legal for the
// report's current status. Err is ErrInvalidTransition or ErrStaleTransition.
type TransitionError struct {
	Seq  int64
	From models.Status
	To   models.Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("report #%d: %s -> %s: %v", e.Seq, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// InsufficientCreditsError carries the shortfall for the caller.
type InsufficientCreditsError struct {
	Available int64
	Cost      int64
	Shortfall int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d more (available %d, cost %d)", e.Shortfall, e.Available, e.Cost)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// persistErr maps store and context failures onto the service taxonomy.
// Errors already in the taxonomy pass through unchanged.
func persistErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrPersistenceTimeout)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrPersistenceConflict)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
