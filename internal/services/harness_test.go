package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/database"
	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/notify"
	"github.com/greencredits/report-server/internal/storage"
	"github.com/greencredits/report-server/internal/store"
	"github.com/greencredits/report-server/internal/zones"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) has(eventType string, seq int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == eventType && e.ReportSeq == seq {
			return true
		}
	}
	return false
}

type harness struct {
	store    *store.SQLStore
	ledger   *CreditLedger
	reports  *ReportService
	guard    *DuplicateGuard
	sink     *recordingSink
	photoDir string
}

func newHarness(t *testing.T, rewards ...models.Reward) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	st := store.NewSQLite(db)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	if len(rewards) == 0 {
		rewards = DefaultRewards()
	}
	catalog, err := NewStaticCatalog(rewards)
	require.NoError(t, err)

	router, err := zones.NewRouter(zones.DefaultConfig())
	require.NoError(t, err)

	photoDir := t.TempDir()
	photos, err := storage.NewDiskStore(photoDir)
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	sink := &recordingSink{}
	ledger := NewCreditLedger(st, catalog, sink, 5*time.Second, logger)
	guard := NewDuplicateGuard(st, logger)
	reports := NewReportService(ReportDeps{
		Store:          st,
		Router:         router,
		Guard:          guard,
		Ledger:         ledger,
		Photos:         photos,
		Sink:           sink,
		PersistTimeout: 5 * time.Second,
		Logger:         logger,
	})

	return &harness{store: st, ledger: ledger, reports: reports, guard: guard, sink: sink, photoDir: photoDir}
}

func (h *harness) citizen(t *testing.T, id string) {
	t.Helper()
	_, err := h.ledger.OpenAccount(context.Background(), id)
	require.NoError(t, err)
}

// ensureCitizen opens an account for id unless one exists.
func (h *harness) ensureCitizen(t *testing.T, id string) {
	t.Helper()
	_, err := h.ledger.OpenAccount(context.Background(), id)
	if !errors.Is(err, ErrAccountExists) {
		require.NoError(t, err)
	}
}

func (h *harness) worker(t *testing.T, id, zone string) {
	t.Helper()
	_, err := h.reports.RegisterWorker(context.Background(), &models.Worker{ID: id, Name: "Worker " + id, Zone: zone})
	require.NoError(t, err)
}

func (h *harness) submit(t *testing.T, sub models.ReportSubmission) *models.Report {
	t.Helper()
	h.ensureCitizen(t, sub.SubmitterID)
	r, err := h.reports.Submit(context.Background(), &sub)
	require.NoError(t, err)
	return r
}

const zoneNorth = "Zone 1 - North Gonda"

func basicSubmission(citizen string) models.ReportSubmission {
	return models.ReportSubmission{
		SubmitterID: citizen,
		Description: "Overflowing bins behind the market",
		Category:    models.CategoryPlastic,
		Address:     "Railway Station",
	}
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func ptrSub(s models.ReportSubmission) *models.ReportSubmission { return &s }

func storeFilterAll() store.ReportFilter { return store.ReportFilter{} }
