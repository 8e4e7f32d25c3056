package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/notify"
)

func TestReportLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "citizen-1")
	h.worker(t, "worker-1", zoneNorth)

	r := h.submit(t, models.ReportSubmission{
		SubmitterID: "citizen-1",
		Description: "Garbage pile dumped near the rail tracks",
		Category:    models.CategoryPlastic,
		Photo:       []byte("photo-x"),
		PhotoType:   "image/jpeg",
		Address:     "Railway Station",
	})
	assert.Equal(t, int64(1001), r.Seq)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, zoneNorth, r.Zone)
	assert.Equal(t, 50, r.QualityScore)
	assert.Equal(t, int64(20), r.EstimatedCredits)
	assert.NotEmpty(t, r.Fingerprint)
	assert.FileExists(t, filepath.Join(h.photoDir, filepath.FromSlash(r.PhotoRef)))

	bal, err := h.ledger.Balance(ctx, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus, bal.Available, "estimate is not paid at submission")

	r, err = h.reports.Verify(ctx, r.Seq, "officer-1", "looks genuine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, r.Status)
	assert.Equal(t, "officer-1", r.VerifiedBy)
	require.NotNil(t, r.VerifiedAt)

	bal, err = h.ledger.Balance(ctx, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus+20, bal.Available)

	r, err = h.reports.AssignWorker(ctx, r.Seq, "worker-1", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, r.Status)
	assert.Equal(t, "worker-1", r.AssignedWorker)

	r, err = h.reports.Complete(ctx, r.Seq, CompleteInput{
		WorkerID:   "worker-1",
		Notes:      "cleared",
		AfterPhoto: []byte("after"),
		PhotoType:  "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, r.Status)
	assert.Equal(t, "worker-1", r.ResolvedBy)
	require.NotNil(t, r.ResolvedAt)
	assert.NotEmpty(t, r.AfterPhotoRef)

	sum, err := h.ledger.Summary(ctx, "citizen-1", 10)
	require.NoError(t, err)
	assert.Equal(t, SignupBonus+20+20, sum.Available)
	assert.Equal(t, SignupBonus+20+20, sum.Total)
	assert.Equal(t, int64(1), sum.ReportsVerified, "one report counted once")
	require.Len(t, sum.Transactions, 3)
	assert.Equal(t, "Report #1001 resolved", sum.Transactions[0].Description)
	assert.Equal(t, "Report #1001 verified", sum.Transactions[1].Description)
	require.Len(t, sum.Badges, 1)
	assert.Equal(t, "first_report", sum.Badges[0].Key)

	w, err := h.reports.Worker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.CompletedCount)

	events, err := h.reports.Events(ctx, r.Seq)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"submitted", "verified", "assigned", "resolved"}, actions)

	assert.Eventually(t, func() bool {
		return h.sink.has(notify.ReportSubmitted, 1001) && h.sink.has(notify.ReportResolved, 1001)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEstimateNeverChangesAcrossTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")
	h.worker(t, "w1", zoneNorth)

	r := h.submit(t, basicSubmission("c1"))
	estimate := r.EstimatedCredits

	_, err := h.reports.Verify(ctx, r.Seq, "o1", "")
	require.NoError(t, err)
	_, err = h.reports.AssignWorker(ctx, r.Seq, "w1", "o1")
	require.NoError(t, err)
	_, err = h.reports.Complete(ctx, r.Seq, CompleteInput{WorkerID: "w1"})
	require.NoError(t, err)

	got, err := h.reports.Get(ctx, r.Seq)
	require.NoError(t, err)
	assert.Equal(t, estimate, got.EstimatedCredits)
}

func TestResolveWithoutVerificationPaysOnlyEstimate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")
	h.worker(t, "w1", zoneNorth)

	r := h.submit(t, basicSubmission("c1"))
	_, err := h.reports.AssignWorker(ctx, r.Seq, "w1", "w1")
	require.NoError(t, err)
	_, err = h.reports.Complete(ctx, r.Seq, CompleteInput{WorkerID: "w1"})
	require.NoError(t, err)

	acct, err := h.ledger.Balance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus+r.EstimatedCredits, acct.Available)
	assert.Equal(t, int64(1), acct.ReportsVerified)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		mod   func(*models.ReportSubmission)
		field string
	}{
		{"short description", func(s *models.ReportSubmission) { s.Description = "   too short    " }, "description"},
		{"bad category", func(s *models.ReportSubmission) { s.Category = "uranium" }, "category"},
		{"bad severity", func(s *models.ReportSubmission) { s.Severity = "apocalyptic" }, "severity"},
		{"missing submitter", func(s *models.ReportSubmission) { s.SubmitterID = "" }, "submitter_id"},
		{"confidence out of range", func(s *models.ReportSubmission) { s.AIConfidence = ptr(1.5) }, "ai_confidence"},
		{"latitude out of range", func(s *models.ReportSubmission) { s.Location = models.GeoPoint{Lat: 91, Lng: 10} }, "location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := basicSubmission("c1")
			tt.mod(&sub)
			_, err := h.reports.Submit(ctx, &sub)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	list, err := h.reports.List(ctx, storeFilterAll())
	require.NoError(t, err)
	assert.Empty(t, list, "validation failures persist nothing")
}

func TestSubmitDefaultsSeverityAndZone(t *testing.T) {
	h := newHarness(t)
	sub := basicSubmission("c1")
	sub.Address = ""
	r := h.submit(t, sub)
	assert.Equal(t, models.SeverityMedium, r.Severity)
	assert.Equal(t, "Zone 5 - Central Gonda", r.Zone)
	assert.Empty(t, r.Fingerprint)
}

func TestDuplicatePhotoRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := basicSubmission("c1")
	first.Photo = []byte("same-bytes")
	r := h.submit(t, first)

	second := basicSubmission("c2")
	second.Photo = []byte("same-bytes")
	_, err := h.reports.Submit(ctx, &second)

	var dup *DuplicateSubmissionError
	require.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Equal(t, r.Seq, dup.ReportSeq)

	entries, err := os.ReadDir(filepath.Join(h.photoDir, "reports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the duplicate upload is not stored")

	// Reports without photos never count as duplicates.
	h.submit(t, basicSubmission("c3"))
	h.submit(t, basicSubmission("c3"))
}

func TestLateDuplicateSurfacesAsDuplicate(t *testing.T) {
	h := newHarness(t)
	sub := basicSubmission("c1")
	sub.Photo = []byte("raced")
	r := h.submit(t, sub)

	err := h.guard.Conflict(context.Background(), r.Fingerprint)
	var dup *DuplicateSubmissionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, r.Seq, dup.ReportSeq)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	const n = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := basicSubmission("c1")
			sub.Photo = []byte("contested")
			_, err := h.reports.Submit(ctx, &sub)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateSubmission):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
}

func TestIllegalTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")
	h.worker(t, "w1", zoneNorth)

	pending := h.submit(t, basicSubmission("c1"))

	_, err := h.reports.Complete(ctx, pending.Seq, CompleteInput{WorkerID: "w1"})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.StatusPending, terr.From)
	assert.Equal(t, models.StatusResolved, terr.To)

	_, err = h.reports.AssignWorker(ctx, pending.Seq, "w1", "w1")
	require.NoError(t, err)
	_, err = h.reports.Verify(ctx, pending.Seq, "o1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "verify is only legal from pending")

	_, err = h.reports.Complete(ctx, pending.Seq, CompleteInput{WorkerID: "w1"})
	require.NoError(t, err)

	_, err = h.reports.Verify(ctx, pending.Seq, "o1", "")
	assert.ErrorIs(t, err, ErrStaleTransition)
	_, err = h.reports.Reject(ctx, pending.Seq, "o1", "late")
	assert.ErrorIs(t, err, ErrStaleTransition)
	_, err = h.reports.AssignWorker(ctx, pending.Seq, "w1", "w1")
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = h.reports.Verify(ctx, 9999, "o1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectAfterVerifyKeepsBonus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	r := h.submit(t, basicSubmission("c1"))
	_, err := h.reports.Verify(ctx, r.Seq, "o1", "")
	require.NoError(t, err)

	_, err = h.reports.Reject(ctx, r.Seq, "o1", "")
	assert.ErrorIs(t, err, ErrValidation, "a reason is required")

	r, err = h.reports.Reject(ctx, r.Seq, "o1", "duplicate of an older complaint")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, r.Status)
	assert.Equal(t, "duplicate of an older complaint", r.AdminNotes)

	acct, err := h.ledger.Balance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus+VerificationBonus, acct.Available)

	_, err = h.reports.Verify(ctx, r.Seq, "o1", "")
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestRejectFromInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.worker(t, "w1", zoneNorth)

	r := h.submit(t, basicSubmission("c1"))
	_, err := h.reports.AssignWorker(ctx, r.Seq, "w1", "w1")
	require.NoError(t, err)
	r, err = h.reports.Reject(ctx, r.Seq, "o1", "not municipal land")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, r.Status)
}

func TestSubmitRequiresCreditAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := basicSubmission("no-account")
	sub.Photo = []byte("orphan-photo")
	_, err := h.reports.Submit(ctx, &sub)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := h.reports.List(ctx, storeFilterAll())
	require.NoError(t, err)
	assert.Empty(t, list, "no report is stored")

	entries, err := os.ReadDir(filepath.Join(h.photoDir, "reports"))
	if err == nil {
		assert.Empty(t, entries, "the uploaded photo is discarded")
	}

	// Once the account exists the same photo is accepted, so it was never
	// registered as a fingerprint.
	h.citizen(t, "no-account")
	r, err := h.reports.Submit(ctx, &sub)
	require.NoError(t, err)

	_, err = h.reports.Verify(ctx, r.Seq, "o1", "")
	require.NoError(t, err)
}

func TestAssignmentRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.worker(t, "north-1", zoneNorth)
	h.worker(t, "north-2", zoneNorth)
	h.worker(t, "south-1", "Zone 2 - South Gonda")

	r := h.submit(t, basicSubmission("c1"))

	_, err := h.reports.AssignWorker(ctx, r.Seq, "south-1", "south-1")
	assert.ErrorIs(t, err, ErrWrongZone)

	_, err = h.reports.AssignWorker(ctx, r.Seq, "ghost", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.reports.AssignWorker(ctx, r.Seq, "north-1", "north-1")
	require.NoError(t, err)

	_, err = h.reports.AssignWorker(ctx, r.Seq, "north-1", "north-1")
	assert.ErrorIs(t, err, ErrAlreadyAssigned, "re-accepting is not idempotent")
	_, err = h.reports.AssignWorker(ctx, r.Seq, "north-2", "north-2")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	_, err = h.reports.Complete(ctx, r.Seq, CompleteInput{WorkerID: "north-2"})
	assert.ErrorIs(t, err, ErrNotAssignee)
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	workers := []string{"w1", "w2", "w3", "w4", "w5"}
	for _, w := range workers {
		h.worker(t, w, zoneNorth)
	}
	r := h.submit(t, basicSubmission("c1"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for _, w := range workers {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			_, err := h.reports.AssignWorker(ctx, r.Seq, worker, worker)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, worker)
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyAssigned)
			losers++
		}(w)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, len(workers)-1, losers)

	got, err := h.reports.Get(ctx, r.Seq)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.AssignedWorker)
}

func TestWorkerQueueAndZoneStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.worker(t, "w1", zoneNorth)

	north := h.submit(t, basicSubmission("c1"))
	south := basicSubmission("c1")
	south.Address = "Katra bazaar"
	h.submit(t, south)

	queue, err := h.reports.WorkerQueue(ctx, "w1", 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, north.Seq, queue[0].Seq)

	_, err = h.reports.WorkerQueue(ctx, "ghost", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.reports.Reject(ctx, north.Seq, "o1", "spam")
	require.NoError(t, err)
	queue, err = h.reports.WorkerQueue(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Empty(t, queue)

	stats, err := h.reports.ZoneStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 5)
	assert.Equal(t, models.ZoneStats{Zone: zoneNorth, Total: 1}, stats[0])
	assert.Equal(t, models.ZoneStats{Zone: "Zone 2 - South Gonda", Total: 1, Pending: 1}, stats[1])
	assert.Equal(t, models.ZoneStats{Zone: "Zone 5 - Central Gonda"}, stats[4])

	stats, err = h.reports.ZoneStats(ctx, "Zone 2 - South Gonda", "Zone 4 - West Gonda")
	require.NoError(t, err)
	assert.Equal(t, []models.ZoneStats{
		{Zone: "Zone 2 - South Gonda", Total: 1, Pending: 1},
		{Zone: "Zone 4 - West Gonda"},
	}, stats)
}

func TestHeatmap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	located := basicSubmission("c1")
	located.Location = models.GeoPoint{Lat: 27.1324, Lng: 81.9669}
	located.Category = models.CategoryOrganic
	kept := h.submit(t, located)

	h.submit(t, basicSubmission("c1"))

	spam := basicSubmission("c2")
	spam.Location = models.GeoPoint{Lat: 27.18, Lng: 81.97}
	dropped := h.submit(t, spam)
	_, err := h.reports.Reject(ctx, dropped.Seq, "o1", "not waste")
	require.NoError(t, err)

	points, err := h.reports.Heatmap(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, kept.Seq, points[0].Seq)
	assert.Equal(t, models.StatusPending, points[0].Status)
	assert.Equal(t, models.CategoryOrganic, points[0].Category)
	assert.Equal(t, kept.Zone, points[0].Zone)
}

func TestRegisterWorkerValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reports.RegisterWorker(ctx, &models.Worker{ID: "w1", Name: "A", Zone: "Atlantis"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.reports.RegisterWorker(ctx, &models.Worker{ID: "", Name: "A", Zone: zoneNorth})
	assert.ErrorIs(t, err, ErrValidation)

	w, err := h.reports.RegisterWorker(ctx, &models.Worker{ID: "w1", Name: "A", Zone: zoneNorth})
	require.NoError(t, err)
	assert.Equal(t, zoneNorth, w.Zone)

	// re-registering moves the worker
	w, err = h.reports.RegisterWorker(ctx, &models.Worker{ID: "w1", Name: "A", Zone: "Zone 3 - East Gonda"})
	require.NoError(t, err)
	assert.Equal(t, "Zone 3 - East Gonda", w.Zone)
}

func TestSubmitTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := h.reports.Submit(ctx, ptrSub(basicSubmission("c1")))
	assert.ErrorIs(t, err, ErrPersistenceTimeout)
}

func TestResultMessage(t *testing.T) {
	res := Result(&models.Report{Seq: 1001, Zone: zoneNorth, EstimatedCredits: 20, QualityScore: 50, Status: models.StatusPending})
	assert.Equal(t, int64(1001), res.Seq)
	assert.Contains(t, res.Message, "#1001")
	assert.Contains(t, res.Message, "20 credits")
}
