package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Reports ────────────────────────────────────────────────────────────────

var ReportsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "reports",
	Name:      "submitted_total",
	Help:      "Total reports accepted, by zone.",
}, []string{"zone"})

var ReportTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "reports",
	Name:      "transitions_total",
	Help:      "Total committed lifecycle transitions, by action and resulting status.",
}, []string{"action", "status"})

var DuplicatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "reports",
	Name:      "duplicates_rejected_total",
	Help:      "Submissions rejected as duplicate photos, by detection stage (precheck, constraint).",
}, []string{"stage"})

var ZoneRoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "zones",
	Name:      "routing_decisions_total",
	Help:      "Zone routing decisions by reason (address, coordinates, default).",
}, []string{"reason"})

// ─── Ledger ─────────────────────────────────────────────────────────────────

var CreditsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "ledger",
	Name:      "credits_awarded_total",
	Help:      "Credits awarded, by transaction kind.",
}, []string{"kind"})

var CreditsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "ledger",
	Name:      "credits_redeemed_total",
	Help:      "Credits spent on rewards.",
})

var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "ledger",
	Name:      "redemptions_total",
	Help:      "Redemption attempts by outcome (ok, insufficient).",
}, []string{"outcome"})

var LedgerMismatches = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "greencredits",
	Subsystem: "ledger",
	Name:      "reconcile_mismatches",
	Help:      "Accounts whose cached balance disagreed with the transaction log at the last reconciliation.",
})

var LedgerLeaves = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "greencredits",
	Subsystem: "ledger",
	Name:      "merkle_leaves",
	Help:      "Transactions covered by the current ledger Merkle root.",
})

// ─── Notifications ──────────────────────────────────────────────────────────

var NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greencredits",
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Events that could not be handed to the notification sink.",
})
