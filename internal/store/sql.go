package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/greencredits/report-server/internal/models"
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewPostgres wraps a pgx pool. Closing the store does not close the pool.
func NewPostgres(pool *pgxpool.Pool) *SQLStore {
	return &SQLStore{db: stdlib.OpenDBFromPool(pool), d: postgresDialect}
}

// NewSQLite wraps a database opened with the modernc "sqlite" driver.
func NewSQLite(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, d: sqliteDialect}
}

// Migrate applies the schema. Statements are idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range s.d.migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLStore) Dialect() string { return s.d.name }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *sqlTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.rebind(q), args...)
}

func (t *sqlTx) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.rebind(q), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(q), args...)
}

// ─── Reports ────────────────────────────────────────────────────────────────

const reportColumns = `id, seq, submitter_id, description, category, lat, lng, address, zone,
	severity, fingerprint, quality_score, estimated_credits, status, assigned_worker,
	verified_by, resolved_by, worker_notes, admin_notes, photo_ref, after_photo_ref,
	ai_confidence, version, created_at, updated_at, verified_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		r                                   models.Report
		fingerprint, assigned, verBy, resBy sql.NullString
		verifiedAt, resolvedAt              sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Seq, &r.SubmitterID, &r.Description, &r.Category,
		&r.Location.Lat, &r.Location.Lng, &r.Address, &r.Zone, &r.Severity,
		&fingerprint, &r.QualityScore, &r.EstimatedCredits, &r.Status, &assigned,
		&verBy, &resBy, &r.WorkerNotes, &r.AdminNotes, &r.PhotoRef, &r.AfterPhotoRef,
		&r.AIConfidence, &r.Version, &r.CreatedAt, &r.UpdatedAt, &verifiedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	r.Fingerprint = fingerprint.String
	r.AssignedWorker = assigned.String
	r.VerifiedBy = verBy.String
	r.ResolvedBy = resBy.String
	if verifiedAt.Valid {
		at := verifiedAt.Time.UTC()
		r.VerifiedAt = &at
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		r.ResolvedAt = &at
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// InsertReport stores r and sets r.Seq. A fingerprint collision returns
// ErrFingerprintTaken.
func (t *sqlTx) InsertReport(ctx context.Context, r *models.Report) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	err := t.queryRow(ctx, `
		INSERT INTO reports (id, submitter_id, description, category, lat, lng, address, zone,
			severity, fingerprint, quality_score, estimated_credits, status, photo_ref,
			ai_confidence, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`, r.ID.String(), r.SubmitterID, r.Description, string(r.Category), r.Location.Lat, r.Location.Lng,
		r.Address, r.Zone, string(r.Severity), nullString(r.Fingerprint), r.QualityScore,
		r.EstimatedCredits, string(r.Status), r.PhotoRef, r.AIConfidence, r.Version,
		r.CreatedAt, r.UpdatedAt,
	).Scan(&r.Seq)
	if err != nil {
		if t.d.isUnique(err) {
			return ErrFingerprintTaken
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (t *sqlTx) ReportBySeq(ctx context.Context, seq int64) (*models.Report, error) {
	return scanReport(t.queryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE seq = ?`, seq))
}

// LockReport reads a report and, on PostgreSQL, holds its row lock until
// the transaction ends.
func (t *sqlTx) LockReport(ctx context.Context, seq int64) (*models.Report, error) {
	return scanReport(t.queryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE seq = ?`+t.d.forUpdate, seq))
}

func (t *sqlTx) ReportByFingerprint(ctx context.Context, fingerprint string) (*models.Report, error) {
	if fingerprint == "" {
		return nil, ErrNotFound
	}
	return scanReport(t.queryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE fingerprint = ?`, fingerprint))
}

// UpdateReport writes the mutable lifecycle fields if the row still has
// r.Version. estimated_credits is deliberately absent from the SET list.
func (t *sqlTx) UpdateReport(ctx context.Context, r *models.Report) error {
	res, err := t.exec(ctx, `
		UPDATE reports SET
			status = ?, assigned_worker = ?, verified_by = ?, resolved_by = ?,
			worker_notes = ?, admin_notes = ?, after_photo_ref = ?,
			verified_at = ?, resolved_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(r.Status), nullString(r.AssignedWorker), nullString(r.VerifiedBy), nullString(r.ResolvedBy),
		r.WorkerNotes, r.AdminNotes, r.AfterPhotoRef,
		nullTime(r.VerifiedAt), nullTime(r.ResolvedAt), r.UpdatedAt,
		r.ID.String(), r.Version,
	)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	r.Version++
	return nil
}

// ClaimReport assigns a worker only while the report is still open and
// unassigned. Losing the race returns ErrConflict.
func (t *sqlTx) ClaimReport(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error {
	res, err := t.exec(ctx, `
		UPDATE reports SET status = ?, assigned_worker = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status IN (?, ?) AND assigned_worker IS NULL
	`, string(models.StatusInProgress), workerID, at, id.String(),
		string(models.StatusPending), string(models.StatusVerified),
	)
	if err != nil {
		return fmt.Errorf("claim report: %w", err)
	}
	return expectOneRow(res)
}

func (t *sqlTx) ListReports(ctx context.Context, f ReportFilter) ([]models.Report, error) {
	var (
		where []string
		args  []any
	)
	if f.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, f.SubmitterID)
	}
	if len(f.Zones) > 0 {
		where = append(where, "zone IN ("+placeholders(len(f.Zones))+")")
		for _, z := range f.Zones {
			args = append(args, z)
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}

	q := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func (t *sqlTx) ZoneStats(ctx context.Context, zones []string) ([]models.ZoneStats, error) {
	q := `
		SELECT zone, COUNT(*),
			CAST(COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS BIGINT)
		FROM reports`
	args := []any{string(models.StatusPending), string(models.StatusResolved)}
	if len(zones) > 0 {
		q += " WHERE zone IN (" + placeholders(len(zones)) + ")"
		for _, z := range zones {
			args = append(args, z)
		}
	}
	q += " GROUP BY zone ORDER BY zone"

	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("zone stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.ZoneStats, 0)
	for rows.Next() {
		var zs models.ZoneStats
		if err := rows.Scan(&zs.Zone, &zs.Total, &zs.Pending, &zs.Resolved); err != nil {
			return nil, fmt.Errorf("scan zone stats: %w", err)
		}
		stats = append(stats, zs)
	}
	return stats, rows.Err()
}

// HeatmapPoints returns located reports that were not rejected, newest
// first. Reports without coordinates are stored as (0, 0).
func (t *sqlTx) HeatmapPoints(ctx context.Context, limit int) ([]models.HeatmapPoint, error) {
	rows, err := t.query(ctx, `
		SELECT seq, lat, lng, status, category, zone, created_at FROM reports
		WHERE NOT (lat = 0 AND lng = 0) AND status <> ?
		ORDER BY seq DESC LIMIT ?
	`, string(models.StatusRejected), limit)
	if err != nil {
		return nil, fmt.Errorf("heatmap points: %w", err)
	}
	defer rows.Close()

	points := make([]models.HeatmapPoint, 0)
	for rows.Next() {
		var p models.HeatmapPoint
		if err := rows.Scan(&p.Seq, &p.Lat, &p.Lng, &p.Status, &p.Category, &p.Zone, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan heatmap point: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

func (t *sqlTx) InsertReportEvent(ctx context.Context, e *models.ReportEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := t.exec(ctx, `
		INSERT INTO report_events (id, report_id, seq, action, from_status, to_status, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.ReportID.String(), e.Seq, e.Action, string(e.From), string(e.To), e.Actor, e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report event: %w", err)
	}
	return nil
}

func (t *sqlTx) ReportEvents(ctx context.Context, reportID uuid.UUID) ([]models.ReportEvent, error) {
	rows, err := t.query(ctx, `
		SELECT id, report_id, seq, action, from_status, to_status, actor, note, created_at
		FROM report_events WHERE report_id = ? ORDER BY n
	`, reportID.String())
	if err != nil {
		return nil, fmt.Errorf("report events: %w", err)
	}
	defer rows.Close()

	events := make([]models.ReportEvent, 0)
	for rows.Next() {
		var e models.ReportEvent
		if err := rows.Scan(&e.ID, &e.ReportID, &e.Seq, &e.Action, &e.From, &e.To,
			&e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// ─── Workers ────────────────────────────────────────────────────────────────

func (t *sqlTx) UpsertWorker(ctx context.Context, w *models.Worker) error {
	_, err := t.exec(ctx, `
		INSERT INTO workers (id, name, zone, completed_count, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, zone = excluded.zone
	`, w.ID, w.Name, w.Zone, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func (t *sqlTx) WorkerByID(ctx context.Context, id string) (*models.Worker, error) {
	var w models.Worker
	err := t.queryRow(ctx, `
		SELECT id, name, zone, completed_count, created_at FROM workers WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &w.Zone, &w.CompletedCount, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return &w, nil
}

func (t *sqlTx) IncrementWorkerCompleted(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `UPDATE workers SET completed_count = completed_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (t *sqlTx) InsertAccount(ctx context.Context, a *models.CreditAccount) error {
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := t.exec(ctx, `
		INSERT INTO credit_accounts (account_id, total_earned, available, reports_verified, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.AccountID, a.TotalEarned, a.Available, a.ReportsVerified, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if t.d.isUnique(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `account_id, total_earned, available, reports_verified, version, created_at, updated_at`

func scanAccount(row rowScanner) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := row.Scan(&a.AccountID, &a.TotalEarned, &a.Available, &a.ReportsVerified,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (t *sqlTx) Account(ctx context.Context, id string) (*models.CreditAccount, error) {
	return scanAccount(t.queryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE account_id = ?`, id))
}

// LockAccount reads an account for a read-check-write sequence. On
// PostgreSQL the row stays locked until commit.
func (t *sqlTx) LockAccount(ctx context.Context, id string) (*models.CreditAccount, error) {
	return scanAccount(t.queryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE account_id = ?`+t.d.forUpdate, id))
}

func (t *sqlTx) UpdateAccount(ctx context.Context, a *models.CreditAccount) error {
	res, err := t.exec(ctx, `
		UPDATE credit_accounts SET total_earned = ?, available = ?, reports_verified = ?,
			updated_at = ?, version = version + 1
		WHERE account_id = ? AND version = ?
	`, a.TotalEarned, a.Available, a.ReportsVerified, a.UpdatedAt, a.AccountID, a.Version)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (t *sqlTx) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := t.query(ctx, `SELECT account_id FROM credit_accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TopAccounts ranks accounts by total credits earned. Ties go to the
// account that opened first.
func (t *sqlTx) TopAccounts(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := t.query(ctx, `
		SELECT a.account_id, a.total_earned, a.reports_verified,
			(SELECT COUNT(*) FROM account_badges b WHERE b.account_id = a.account_id)
		FROM credit_accounts a
		ORDER BY a.total_earned DESC, a.created_at, a.account_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top accounts: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LeaderboardEntry, 0)
	for rows.Next() {
		e := models.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.AccountID, &e.TotalEarned, &e.ReportsVerified, &e.Badges); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *sqlTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := t.exec(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount, kind, description, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tr.ID.String(), tr.AccountID, tr.Amount, string(tr.Kind), tr.Description, tr.Reference, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, account_id, amount, kind, description, reference, created_at`

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	txs := make([]models.Transaction, 0)
	for rows.Next() {
		var tr models.Transaction
		if err := rows.Scan(&tr.ID, &tr.AccountID, &tr.Amount, &tr.Kind,
			&tr.Description, &tr.Reference, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tr.CreatedAt = tr.CreatedAt.UTC()
		txs = append(txs, tr)
	}
	return txs, rows.Err()
}

// RecentTransactions returns up to limit entries, newest first.
func (t *sqlTx) RecentTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	rows, err := t.query(ctx, `
		SELECT `+transactionColumns+` FROM credit_transactions
		WHERE account_id = ? ORDER BY n DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return scanTransactions(rows)
}

// AllTransactions returns the whole log in append order.
func (t *sqlTx) AllTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := t.query(ctx, `SELECT `+transactionColumns+` FROM credit_transactions ORDER BY n`)
	if err != nil {
		return nil, fmt.Errorf("all transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (t *sqlTx) LedgerSums(ctx context.Context, accountID string) (LedgerSums, error) {
	var s LedgerSums
	err := t.queryRow(ctx, `
		SELECT
			CAST(COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(amount), 0) AS BIGINT),
			COUNT(*)
		FROM credit_transactions WHERE account_id = ?
	`, accountID).Scan(&s.Earned, &s.Net, &s.Entries)
	if err != nil {
		return LedgerSums{}, fmt.Errorf("ledger sums: %w", err)
	}
	return s, nil
}

func (t *sqlTx) Badges(ctx context.Context, accountID string) ([]models.Badge, error) {
	rows, err := t.query(ctx, `
		SELECT badge_key, name, icon, earned_at FROM account_badges
		WHERE account_id = ? ORDER BY earned_at, badge_key
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("badges: %w", err)
	}
	defer rows.Close()

	badges := make([]models.Badge, 0)
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.Key, &b.Name, &b.Icon, &b.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		b.EarnedAt = b.EarnedAt.UTC()
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// InsertBadge records b once; re-inserting an earned badge is a no-op.
func (t *sqlTx) InsertBadge(ctx context.Context, accountID string, b models.Badge) error {
	_, err := t.exec(ctx, `
		INSERT INTO account_badges (account_id, badge_key, name, icon, earned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, badge_key) DO NOTHING
	`, accountID, b.Key, b.Name, b.Icon, b.EarnedAt)
	if err != nil {
		return fmt.Errorf("insert badge: %w", err)
	}
	return nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
