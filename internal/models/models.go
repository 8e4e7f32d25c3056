// Package models defines the data structures used across the application.
// These map to the reports/ledger schema in internal/store.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Status is a report lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Category is the kind of waste reported
type Category string

const (
	CategoryPlastic Category = "plastic"
	CategoryPaper   Category = "paper"
	CategoryMetal   Category = "metal"
	CategoryGlass   Category = "glass"
	CategoryOrganic Category = "organic"
	CategoryEWaste  Category = "ewaste"
	CategoryOther   Category = "other"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryPlastic, CategoryPaper, CategoryMetal, CategoryGlass,
	CategoryOrganic, CategoryEWaste, CategoryOther,
}

// Valid reports whether c is an accepted category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity grades how urgent a report is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is an accepted severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// GeoPoint is a WGS84 coordinate. The zero point means "unknown".
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Known reports whether the point carries usable coordinates.
func (p GeoPoint) Known() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat != 0 && p.Lng != 0
}

// Report is a citizen waste-disposal report.
// EstimatedCredits is set once at submission and never recomputed.
type Report struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Seq              int64      `json:"seq" db:"seq"`
	SubmitterID      string     `json:"submitter_id" db:"submitter_id"`
	Description      string     `json:"description" db:"description"`
	Category         Category   `json:"category" db:"category"`
	Location         GeoPoint   `json:"location"`
	Address          string     `json:"address,omitempty" db:"address"`
	Zone             string     `json:"zone" db:"zone"`
	Severity         Severity   `json:"severity" db:"severity"`
	Fingerprint      string     `json:"fingerprint,omitempty" db:"fingerprint"`
	QualityScore     int        `json:"quality_score" db:"quality_score"`
	EstimatedCredits int64      `json:"estimated_credits" db:"estimated_credits"`
	Status           Status     `json:"status" db:"status"`
	AssignedWorker   string     `json:"assigned_worker,omitempty" db:"assigned_worker"`
	VerifiedBy       string     `json:"verified_by,omitempty" db:"verified_by"`
	ResolvedBy       string     `json:"resolved_by,omitempty" db:"resolved_by"`
	WorkerNotes      string     `json:"worker_notes,omitempty" db:"worker_notes"`
	AdminNotes       string     `json:"admin_notes,omitempty" db:"admin_notes"`
	PhotoRef         string     `json:"photo_ref,omitempty" db:"photo_ref"`
	AfterPhotoRef    string     `json:"after_photo_ref,omitempty" db:"after_photo_ref"`
	AIConfidence     float64    `json:"ai_confidence,omitempty" db:"ai_confidence"`
	Version          int64      `json:"-" db:"version"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ReportSubmission is the input for filing a new report
type ReportSubmission struct {
	SubmitterID  string
	Description  string
	Category     Category
	Severity     Severity
	Photo        []byte
	PhotoType    string
	Location     GeoPoint
	Address      string
	AIConfidence *float64 // advisory classifier signal in [0,1]
}

// SubmissionResult is returned to the citizen after a successful submission
type SubmissionResult struct {
	Seq              int64  `json:"seq"`
	Zone             string `json:"zone"`
	QualityScore     int    `json:"quality_score"`
	EstimatedCredits int64  `json:"estimated_credits"`
	Status           Status `json:"status"`
	Message          string `json:"message"`
}

// ReportEvent is an immutable entry in a report's activity log
type ReportEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ReportID  uuid.UUID `json:"report_id" db:"report_id"`
	Seq       int64     `json:"seq" db:"seq"`
	Action    string    `json:"action" db:"action"`
	From      Status    `json:"from,omitempty" db:"from_status"`
	To        Status    `json:"to" db:"to_status"`
	Actor     string    `json:"actor" db:"actor"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Worker is a zone-assigned field worker
type Worker struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Zone           string    `json:"zone" db:"zone"`
	CompletedCount int64     `json:"completed_count" db:"completed_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TxKind is the business reason for a ledger entry
type TxKind string

const (
	TxSignupBonus    TxKind = "signup-bonus"
	TxReportVerified TxKind = "report-verified"
	TxReportResolved TxKind = "report-resolved"
	TxRedemption     TxKind = "redemption"
)

// Transaction is one append-only ledger entry. Amount is signed:
// positive earns, negative spends.
type Transaction struct {
	ID          uuid.UUID `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Kind        TxKind    `json:"kind" db:"kind"`
	Description string    `json:"description" db:"description"`
	Reference   string    `json:"reference,omitempty" db:"reference"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Type is "earn" for credits in and "spend" for credits out.
func (t Transaction) Type() string {
	if t.Amount < 0 || t.Kind == TxRedemption {
		return "spend"
	}
	return "earn"
}

// CreditAccount is a citizen's derived balance. It is only ever written
// together with the transaction that changes it.
type CreditAccount struct {
	AccountID       string    `json:"account_id" db:"account_id"`
	TotalEarned     int64     `json:"total" db:"total_earned"`
	Available       int64     `json:"available" db:"available"`
	ReportsVerified int64     `json:"reports_verified" db:"reports_verified"`
	Version         int64     `json:"-" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Badge is an earned achievement. Badges are never revoked.
type Badge struct {
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Icon     string    `json:"icon"`
	EarnedAt time.Time `json:"earned_at"`
}

// BadgeProgress describes a badge not yet earned
type BadgeProgress struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Icon      string  `json:"icon"`
	Threshold int64   `json:"threshold"`
	Progress  float64 `json:"progress"` // percent, 0-100
}

// TransactionView is the citizen-facing shape of a ledger entry
type TransactionView struct {
	Type        string    `json:"type"` // "earn" | "spend"
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// LedgerSummary is the ledger read output
type LedgerSummary struct {
	Total           int64             `json:"total"`
	Available       int64             `json:"available"`
	ReportsVerified int64             `json:"reports_verified"`
	Badges          []Badge           `json:"badges"`
	NextBadges      []BadgeProgress   `json:"next_badges"`
	Transactions    []TransactionView `json:"transactions"`
}

// Reward is a redeemable catalog entry
type Reward struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Category    string `json:"category" toml:"category"`
	Cost        int64  `json:"cost" toml:"cost"`
	Icon        string `json:"icon,omitempty" toml:"icon"`
	Stock       string `json:"stock" toml:"stock"`
	Description string `json:"description" toml:"description"`
}

// RedemptionResult is returned after a successful redemption
type RedemptionResult struct {
	RewardID   string `json:"reward_id"`
	Cost       int64  `json:"cost"`
	NewBalance int64  `json:"new_balance"`
	Message    string `json:"message"`
}

// ZoneStats aggregates report counts per zone for officers
type ZoneStats struct {
	Zone     string `json:"zone"`
	Total    int64  `json:"total"`
	Pending  int64  `json:"pending"`
	Resolved int64  `json:"resolved"`
}

// LeaderboardEntry ranks an account by total credits earned
type LeaderboardEntry struct {
	Rank            int    `json:"rank"`
	AccountID       string `json:"account_id"`
	TotalEarned     int64  `json:"credits"`
	ReportsVerified int64  `json:"reports"`
	Badges          int    `json:"badges"`
}

// HeatmapPoint is one located, non-rejected report on the public map
type HeatmapPoint struct {
	Seq       int64     `json:"seq"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Status    Status    `json:"status"`
	Category  Category  `json:"category"`
	Zone      string    `json:"zone"`
	CreatedAt time.Time `json:"date"`
}

// MerkleProof contains the Merkle proof for a specific ledger entry
type MerkleProof struct {
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Proof    []ProofStep `json:"proof"`
	Index    int         `json:"index"`
	Verified bool        `json:"verified"`
}

// ProofStep is a single step in a Merkle proof path
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" | "right"
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Database   string `json:"database"`
	LedgerRoot string `json:"ledger_root,omitempty"`
}
