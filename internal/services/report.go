// Package services contains business logic layers.
// Services are called by handlers and persist through internal/store.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/notify"
	"github.com/greencredits/report-server/internal/storage"
	"github.com/greencredits/report-server/internal/store"
	"github.com/greencredits/report-server/internal/zones"
)

// transitions lists the legal targets from each non-terminal status.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusVerified, models.StatusInProgress, models.StatusRejected},
	models.StatusVerified:   {models.StatusInProgress, models.StatusRejected},
	models.StatusInProgress: {models.StatusResolved, models.StatusRejected},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(r *models.Report, to models.Status) error {
	if r.Status.Terminal() {
		return &TransitionError{Seq: r.Seq, From: r.Status, To: to, Err: ErrStaleTransition}
	}
	if !CanTransition(r.Status, to) {
		return &TransitionError{Seq: r.Seq, From: r.Status, To: to, Err: ErrInvalidTransition}
	}
	return nil
}

// ReportDeps are the collaborators of a ReportService.
type ReportDeps struct {
	Store          store.Store
	Router         *zones.Router
	Guard          *DuplicateGuard
	Ledger         *CreditLedger
	Photos         storage.PhotoStore // optional
	Sink           notify.Sink        // optional
	PersistTimeout time.Duration
	Logger         *zap.SugaredLogger
}

// ReportService drives a report through its lifecycle. Each transition
// writes the report, its activity event and any credit award in a single
// database transaction.
type ReportService struct {
	store   store.Store
	router  *zones.Router
	guard   *DuplicateGuard
	ledger  *CreditLedger
	photos  storage.PhotoStore
	events  emitter
	timeout time.Duration
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewReportService creates a new report service
func NewReportService(d ReportDeps) *ReportService {
	return &ReportService{
		store:   d.Store,
		router:  d.Router,
		guard:   d.Guard,
		ledger:  d.Ledger,
		photos:  d.Photos,
		events:  newEmitter(d.Sink, d.Logger),
		timeout: d.PersistTimeout,
		logger:  d.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Router exposes the zone router for read-only listings.
func (s *ReportService) Router() *zones.Router { return s.router }

func validateSubmission(sub *models.ReportSubmission) error {
	if strings.TrimSpace(sub.SubmitterID) == "" {
		return invalid("submitter_id", "is required")
	}
	if descLen(sub.Description) < minDescriptionLength {
		return invalid("description", fmt.Sprintf("must be at least %d characters", minDescriptionLength))
	}
	if !sub.Category.Valid() {
		return invalid("category", fmt.Sprintf("unknown category %q", sub.Category))
	}
	if sub.Severity == "" {
		sub.Severity = models.SeverityMedium
	}
	if !sub.Severity.Valid() {
		return invalid("severity", fmt.Sprintf("unknown severity %q", sub.Severity))
	}
	if c := sub.AIConfidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return invalid("ai_confidence", "must be between 0 and 1")
	}
	lat, lng := sub.Location.Lat, sub.Location.Lng
	if math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return invalid("location", "coordinates out of range")
	}
	return nil
}

// Submit files a new report in status pending. The estimated credit
// amount is recorded on the report and paid only on resolution. A
// submitter without a credit account gets ErrNotFound and nothing is kept.
func (s *ReportService) Submit(ctx context.Context, sub *models.ReportSubmission) (*models.Report, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	fingerprint, dup, conflicting, err := s.guard.CheckAndRegister(ctx, sub.Photo)
	if err != nil {
		return nil, err
	}
	if dup {
		s.logger.Infow("Duplicate photo rejected", "submitter", sub.SubmitterID, "conflicting_seq", *conflicting)
		return nil, &DuplicateSubmissionError{ReportSeq: *conflicting}
	}

	zone, reason := s.router.RouteWithReason(sub.Address, sub.Location.Lat, sub.Location.Lng)
	ZoneRoutingDecisions.WithLabelValues(string(reason)).Inc()

	now := s.now()
	r := &models.Report{
		ID:               uuid.New(),
		SubmitterID:      sub.SubmitterID,
		Description:      strings.TrimSpace(sub.Description),
		Category:         sub.Category,
		Location:         sub.Location,
		Address:          strings.TrimSpace(sub.Address),
		Zone:             zone,
		Severity:         sub.Severity,
		Fingerprint:      fingerprint,
		QualityScore:     QualityScore(sub),
		EstimatedCredits: EstimateCredits(sub),
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !r.Location.Known() {
		r.Location = models.GeoPoint{}
	}
	if sub.AIConfidence != nil {
		r.AIConfidence = *sub.AIConfidence
	}

	if len(sub.Photo) > 0 && s.photos != nil {
		key := "reports/" + r.ID.String() + storage.ExtensionFor(sub.PhotoType)
		ref, err := s.photos.Put(ctx, key, sub.Photo, sub.PhotoType)
		if err != nil {
			return nil, fmt.Errorf("store photo: %w", err)
		}
		r.PhotoRef = ref
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		// Reports pay out on verification and resolution, so the submitter
		// must already hold a credit account.
		if _, err := tx.Account(ctx, r.SubmitterID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("credit account %s: %w", r.SubmitterID, ErrNotFound)
			}
			return err
		}
		if err := tx.InsertReport(ctx, r); err != nil {
			return err
		}
		return tx.InsertReportEvent(ctx, &models.ReportEvent{
			ReportID:  r.ID,
			Seq:       r.Seq,
			Action:    "submitted",
			To:        models.StatusPending,
			Actor:     r.SubmitterID,
			CreatedAt: now,
		})
	})
	if err != nil {
		s.discardPhoto(r.PhotoRef)
		if errors.Is(err, store.ErrFingerprintTaken) {
			return nil, s.guard.Conflict(ctx, fingerprint)
		}
		return nil, persistErr("submit report", err)
	}

	ReportsSubmitted.WithLabelValues(zone).Inc()
	s.logger.Infow("Report submitted",
		"seq", r.Seq,
		"zone", zone,
		"routed_by", reason,
		"quality", r.QualityScore,
		"estimated_credits", r.EstimatedCredits,
	)
	s.events.emit(notify.Event{
		Type:      notify.ReportSubmitted,
		Zone:      zone,
		ReportSeq: r.Seq,
		Status:    string(r.Status),
		Message:   fmt.Sprintf("New report #%d in %s", r.Seq, zone),
		At:        now,
	})
	return r, nil
}

// Result builds the citizen-facing submission receipt.
func Result(r *models.Report) models.SubmissionResult {
	return models.SubmissionResult{
		Seq:              r.Seq,
		Zone:             r.Zone,
		QualityScore:     r.QualityScore,
		EstimatedCredits: r.EstimatedCredits,
		Status:           r.Status,
		Message: fmt.Sprintf("Report #%d submitted to %s. You will earn %d credits once it is resolved.",
			r.Seq, r.Zone, r.EstimatedCredits),
	}
}

func (s *ReportService) discardPhoto(ref string) {
	if ref == "" || s.photos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.photos.Delete(ctx, ref); err != nil {
		s.logger.Warnw("Failed to discard photo", "ref", ref, "error", err)
	}
}

// AssignWorker hands an open report to a worker of the report's zone. Only
// one assignment can win; losers get ErrAlreadyAssigned.
func (s *ReportService) AssignWorker(ctx context.Context, seq int64, workerID, actor string) (*models.Report, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var r *models.Report
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockReport(ctx, seq); err != nil {
			return err
		}
		worker, err := tx.WorkerByID(ctx, workerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if r.Status == models.StatusInProgress || (r.AssignedWorker != "" && !r.Status.Terminal()) {
			return fmt.Errorf("report #%d: %w", seq, ErrAlreadyAssigned)
		}
		if err := checkTransition(r, models.StatusInProgress); err != nil {
			return err
		}
		if worker.Zone != r.Zone {
			return fmt.Errorf("worker %s (%s) for report in %s: %w", workerID, worker.Zone, r.Zone, ErrWrongZone)
		}

		now := s.now()
		if err := tx.ClaimReport(ctx, r.ID, workerID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("report #%d: %w", seq, ErrAlreadyAssigned)
			}
			return err
		}
		from := r.Status
		r.Status = models.StatusInProgress
		r.AssignedWorker = workerID
		r.UpdatedAt = now
		r.Version++

		return tx.InsertReportEvent(ctx, &models.ReportEvent{
			ReportID:  r.ID,
			Seq:       r.Seq,
			Action:    "assigned",
			From:      from,
			To:        models.StatusInProgress,
			Actor:     actor,
			Note:      "worker " + workerID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, persistErr("assign worker", err)
	}

	s.committed(r, "assigned", notify.ReportAssigned,
		fmt.Sprintf("Report #%d accepted by a field worker", r.Seq))
	return r, nil
}

// Verify marks a pending report verified and pays the verification bonus.
func (s *ReportService) Verify(ctx context.Context, seq int64, officerID, notes string) (*models.Report, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		r    *models.Report
		acct *models.CreditAccount
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockReport(ctx, seq); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusVerified); err != nil {
			return err
		}

		now := s.now()
		from := r.Status
		r.Status = models.StatusVerified
		r.VerifiedBy = officerID
		r.VerifiedAt = &now
		if notes = strings.TrimSpace(notes); notes != "" {
			r.AdminNotes = notes
		}
		r.UpdatedAt = now
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}

		acct, err = s.ledger.award(ctx, tx, awardRequest{
			accountID:    r.SubmitterID,
			amount:       VerificationBonus,
			kind:         models.TxReportVerified,
			description:  fmt.Sprintf("Report #%d verified", r.Seq),
			reference:    reportRef(r.Seq),
			countsReport: true,
		})
		if err != nil {
			return err
		}

		return tx.InsertReportEvent(ctx, &models.ReportEvent{
			ReportID:  r.ID,
			Seq:       r.Seq,
			Action:    "verified",
			From:      from,
			To:        models.StatusVerified,
			Actor:     officerID,
			Note:      notes,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, persistErr("verify report", err)
	}

	s.ledger.awarded(acct, VerificationBonus, models.TxReportVerified, fmt.Sprintf("Report #%d verified", r.Seq))
	s.committed(r, "verified", notify.ReportVerified,
		fmt.Sprintf("Report #%d verified", r.Seq))
	return r, nil
}

// CompleteInput carries a worker's completion of a report.
type CompleteInput struct {
	WorkerID   string
	Notes      string
	AfterPhoto []byte
	PhotoType  string
}

// Complete resolves an in-progress report and pays the citizen the amount
// estimated at submission. Only the assigned worker may complete it.
func (s *ReportService) Complete(ctx context.Context, seq int64, in CompleteInput) (*models.Report, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	// Reject early so an unauthorized worker cannot upload a photo.
	current, err := s.Get(ctx, seq)
	if err != nil {
		return nil, err
	}
	if err := s.checkCompletion(current, in.WorkerID); err != nil {
		return nil, err
	}

	var afterRef string
	if len(in.AfterPhoto) > 0 && s.photos != nil {
		key := fmt.Sprintf("reports/%s-after%s", current.ID, storage.ExtensionFor(in.PhotoType))
		if afterRef, err = s.photos.Put(ctx, key, in.AfterPhoto, in.PhotoType); err != nil {
			return nil, fmt.Errorf("store after photo: %w", err)
		}
	}

	var (
		r    *models.Report
		acct *models.CreditAccount
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockReport(ctx, seq); err != nil {
			return err
		}
		if err := s.checkCompletion(r, in.WorkerID); err != nil {
			return err
		}

		now := s.now()
		from := r.Status
		firstPayment := r.VerifiedAt == nil
		r.Status = models.StatusResolved
		r.ResolvedBy = in.WorkerID
		r.ResolvedAt = &now
		r.WorkerNotes = strings.TrimSpace(in.Notes)
		if afterRef != "" {
			r.AfterPhotoRef = afterRef
		}
		r.UpdatedAt = now
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}

		acct, err = s.ledger.award(ctx, tx, awardRequest{
			accountID:    r.SubmitterID,
			amount:       r.EstimatedCredits,
			kind:         models.TxReportResolved,
			description:  fmt.Sprintf("Report #%d resolved", r.Seq),
			reference:    reportRef(r.Seq),
			countsReport: firstPayment,
		})
		if err != nil {
			return err
		}

		if err := tx.IncrementWorkerCompleted(ctx, in.WorkerID); err != nil {
			return fmt.Errorf("worker %s: %w", in.WorkerID, err)
		}

		return tx.InsertReportEvent(ctx, &models.ReportEvent{
			ReportID:  r.ID,
			Seq:       r.Seq,
			Action:    "resolved",
			From:      from,
			To:        models.StatusResolved,
			Actor:     in.WorkerID,
			Note:      r.WorkerNotes,
			CreatedAt: now,
		})
	})
	if err != nil {
		s.discardPhoto(afterRef)
		return nil, persistErr("complete report", err)
	}

	s.ledger.awarded(acct, r.EstimatedCredits, models.TxReportResolved, fmt.Sprintf("Report #%d resolved", r.Seq))
	s.committed(r, "resolved", notify.ReportResolved,
		fmt.Sprintf("Report #%d resolved", r.Seq))
	return r, nil
}

func (s *ReportService) checkCompletion(r *models.Report, workerID string) error {
	if err := checkTransition(r, models.StatusResolved); err != nil {
		return err
	}
	if r.AssignedWorker != workerID {
		return fmt.Errorf("report #%d: %w", r.Seq, ErrNotAssignee)
	}
	return nil
}

// Reject closes a report without payment. Credit already paid for an
// earlier verification stays with the citizen.
func (s *ReportService) Reject(ctx context.Context, seq int64, actor, reason string) (*models.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var r *models.Report
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockReport(ctx, seq); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusRejected); err != nil {
			return err
		}

		now := s.now()
		from := r.Status
		r.Status = models.StatusRejected
		r.AdminNotes = reason
		r.UpdatedAt = now
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}
		return tx.InsertReportEvent(ctx, &models.ReportEvent{
			ReportID:  r.ID,
			Seq:       r.Seq,
			Action:    "rejected",
			From:      from,
			To:        models.StatusRejected,
			Actor:     actor,
			Note:      reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, persistErr("reject report", err)
	}

	s.committed(r, "rejected", notify.ReportRejected,
		fmt.Sprintf("Report #%d rejected: %s", r.Seq, reason))
	return r, nil
}

// committed records a transition that is durable.
func (s *ReportService) committed(r *models.Report, action, eventType, message string) {
	ReportTransitions.WithLabelValues(action, string(r.Status)).Inc()
	s.logger.Infow("Report transition",
		"seq", r.Seq,
		"action", action,
		"status", r.Status,
		"zone", r.Zone,
	)
	s.events.emit(notify.Event{
		Type:      eventType,
		Zone:      r.Zone,
		ReportSeq: r.Seq,
		AccountID: r.SubmitterID,
		Status:    string(r.Status),
		Message:   message,
		At:        r.UpdatedAt,
	})
}

func reportRef(seq int64) string {
	return fmt.Sprintf("report:%d", seq)
}
