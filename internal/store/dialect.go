package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the SQL differences between PostgreSQL and SQLite.
type dialect struct {
	name       string
	forUpdate  string
	migrations []string
	isUnique   func(err error) bool
	rebind     func(query string) string
}

var postgresDialect = dialect{
	name:       "postgres",
	forUpdate:  " FOR UPDATE",
	migrations: postgresMigrations(),
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	rebind: dollarPlaceholders,
}

// SQLite has no row locks; the connection pool is capped at one
// connection so transactions are serialized.
var sqliteDialect = dialect{
	name:       "sqlite",
	forUpdate:  "",
	migrations: sqliteMigrations(),
	isUnique: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	},
	rebind: func(q string) string { return q },
}

// dollarPlaceholders rewrites ? markers as $1..$n.
func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func postgresMigrations() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS report_seq START WITH 1001`,
		`CREATE TABLE IF NOT EXISTS reports (
			id                TEXT PRIMARY KEY,
			seq               BIGINT NOT NULL UNIQUE DEFAULT nextval('report_seq'),
			submitter_id      TEXT NOT NULL,
			description       TEXT NOT NULL,
			category          TEXT NOT NULL,
			lat               DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng               DOUBLE PRECISION NOT NULL DEFAULT 0,
			address           TEXT NOT NULL DEFAULT '',
			zone              TEXT NOT NULL,
			severity          TEXT NOT NULL,
			fingerprint       TEXT,
			quality_score     INTEGER NOT NULL,
			estimated_credits BIGINT NOT NULL,
			status            TEXT NOT NULL,
			assigned_worker   TEXT,
			verified_by       TEXT,
			resolved_by       TEXT,
			worker_notes      TEXT NOT NULL DEFAULT '',
			admin_notes       TEXT NOT NULL DEFAULT '',
			photo_ref         TEXT NOT NULL DEFAULT '',
			after_photo_ref   TEXT NOT NULL DEFAULT '',
			ai_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
			version           BIGINT NOT NULL DEFAULT 1,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			verified_at       TIMESTAMPTZ,
			resolved_at       TIMESTAMPTZ,
			CONSTRAINT reports_fingerprint_key UNIQUE (fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_zone_status ON reports(zone, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_submitter ON reports(submitter_id)`,
		`CREATE TABLE IF NOT EXISTS report_events (
			n           BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			report_id   TEXT NOT NULL REFERENCES reports(id),
			seq         BIGINT NOT NULL,
			action      TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status   TEXT NOT NULL,
			actor       TEXT NOT NULL,
			note        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_events_report ON report_events(report_id)`,
		`CREATE TABLE IF NOT EXISTS workers (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			zone            TEXT NOT NULL,
			completed_count BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			account_id       TEXT PRIMARY KEY,
			total_earned     BIGINT NOT NULL DEFAULT 0,
			available        BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
			reports_verified BIGINT NOT NULL DEFAULT 0,
			version          BIGINT NOT NULL DEFAULT 1,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			n           BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			account_id  TEXT NOT NULL REFERENCES credit_accounts(account_id),
			amount      BIGINT NOT NULL,
			kind        TEXT NOT NULL,
			description TEXT NOT NULL,
			reference   TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_account ON credit_transactions(account_id, n)`,
		`CREATE TABLE IF NOT EXISTS account_badges (
			account_id TEXT NOT NULL REFERENCES credit_accounts(account_id),
			badge_key  TEXT NOT NULL,
			name       TEXT NOT NULL,
			icon       TEXT NOT NULL,
			earned_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, badge_key)
		)`,
	}
}

func sqliteMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS reports (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			submitter_id      TEXT NOT NULL,
			description       TEXT NOT NULL,
			category          TEXT NOT NULL,
			lat               REAL NOT NULL DEFAULT 0,
			lng               REAL NOT NULL DEFAULT 0,
			address           TEXT NOT NULL DEFAULT '',
			zone              TEXT NOT NULL,
			severity          TEXT NOT NULL,
			fingerprint       TEXT UNIQUE,
			quality_score     INTEGER NOT NULL,
			estimated_credits INTEGER NOT NULL,
			status            TEXT NOT NULL,
			assigned_worker   TEXT,
			verified_by       TEXT,
			resolved_by       TEXT,
			worker_notes      TEXT NOT NULL DEFAULT '',
			admin_notes       TEXT NOT NULL DEFAULT '',
			photo_ref         TEXT NOT NULL DEFAULT '',
			after_photo_ref   TEXT NOT NULL DEFAULT '',
			ai_confidence     REAL NOT NULL DEFAULT 0,
			version           INTEGER NOT NULL DEFAULT 1,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL,
			verified_at       TIMESTAMP,
			resolved_at       TIMESTAMP
		)`,
		// Sequence numbers start at 1001.
		`INSERT INTO sqlite_sequence (name, seq)
			SELECT 'reports', 1000
			WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'reports')`,
		`CREATE INDEX IF NOT EXISTS idx_reports_zone_status ON reports(zone, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_submitter ON reports(submitter_id)`,
		`CREATE TABLE IF NOT EXISTS report_events (
			n           INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			report_id   TEXT NOT NULL REFERENCES reports(id),
			seq         INTEGER NOT NULL,
			action      TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status   TEXT NOT NULL,
			actor       TEXT NOT NULL,
			note        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_events_report ON report_events(report_id)`,
		`CREATE TABLE IF NOT EXISTS workers (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			zone            TEXT NOT NULL,
			completed_count INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			account_id       TEXT PRIMARY KEY,
			total_earned     INTEGER NOT NULL DEFAULT 0,
			available        INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
			reports_verified INTEGER NOT NULL DEFAULT 0,
			version          INTEGER NOT NULL DEFAULT 1,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			n           INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			account_id  TEXT NOT NULL REFERENCES credit_accounts(account_id),
			amount      INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			description TEXT NOT NULL,
			reference   TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_account ON credit_transactions(account_id, n)`,
		`CREATE TABLE IF NOT EXISTS account_badges (
			account_id TEXT NOT NULL REFERENCES credit_accounts(account_id),
			badge_key  TEXT NOT NULL,
			name       TEXT NOT NULL,
			icon       TEXT NOT NULL,
			earned_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (account_id, badge_key)
		)`,
	}
}
