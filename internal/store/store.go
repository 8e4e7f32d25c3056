// Package store persists reports, workers and the credit ledger.
//
// A single database/sql implementation serves both PostgreSQL (via the pgx
// stdlib bridge) and embedded SQLite; the differences live in a dialect.
// Every mutation runs inside InTx so a report transition, its activity
// event and any ledger entry it triggers commit or roll back together.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/greencredits/report-server/internal/models"
)

var (
	ErrNotFound         = errors.New("store: not found")
	ErrConflict         = errors.New("store: row changed concurrently")
	ErrFingerprintTaken = errors.New("store: photo fingerprint already recorded")
	ErrAlreadyExists    = errors.New("store: already exists")
)

// Store is the persistence boundary used by services.
type Store interface {
	// InTx runs fn in one database transaction. fn's error rolls it back.
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Dialect() string
	Close() error
}

// Tx exposes the operations available inside a transaction.
type Tx interface {
	InsertReport(ctx context.Context, r *models.Report) error
	ReportBySeq(ctx context.Context, seq int64) (*models.Report, error)
	LockReport(ctx context.Context, seq int64) (*models.Report, error)
	ReportByFingerprint(ctx context.Context, fingerprint string) (*models.Report, error)
	UpdateReport(ctx context.Context, r *models.Report) error
	ClaimReport(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error
	ListReports(ctx context.Context, f ReportFilter) ([]models.Report, error)
	ZoneStats(ctx context.Context, zones []string) ([]models.ZoneStats, error)
	HeatmapPoints(ctx context.Context, limit int) ([]models.HeatmapPoint, error)
	InsertReportEvent(ctx context.Context, e *models.ReportEvent) error
	ReportEvents(ctx context.Context, reportID uuid.UUID) ([]models.ReportEvent, error)

	UpsertWorker(ctx context.Context, w *models.Worker) error
	WorkerByID(ctx context.Context, id string) (*models.Worker, error)
	IncrementWorkerCompleted(ctx context.Context, id string) error

	InsertAccount(ctx context.Context, a *models.CreditAccount) error
	Account(ctx context.Context, id string) (*models.CreditAccount, error)
	LockAccount(ctx context.Context, id string) (*models.CreditAccount, error)
	UpdateAccount(ctx context.Context, a *models.CreditAccount) error
	AccountIDs(ctx context.Context) ([]string, error)
	TopAccounts(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	RecentTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
	AllTransactions(ctx context.Context) ([]models.Transaction, error)
	LedgerSums(ctx context.Context, accountID string) (LedgerSums, error)
	Badges(ctx context.Context, accountID string) ([]models.Badge, error)
	InsertBadge(ctx context.Context, accountID string, b models.Badge) error
}

// ReportFilter narrows ListReports. Zero values match everything.
type ReportFilter struct {
	SubmitterID string
	Zones       []string
	Statuses    []models.Status
	Limit       int
}

// LedgerSums are recomputed from the transaction log.
type LedgerSums struct {
	Earned  int64 // sum of positive amounts
	Net     int64 // sum of all amounts
	Entries int64
}
