// Package notify fans lifecycle and ledger events out to connected clients.
//
// Producers call a Sink only after their change has committed. Delivery is
// best effort: a slow client drops messages, a failed publish is logged by
// the caller and never affects the committed change.
package notify

import (
	"context"
	"time"
)

// Event types
const (
	ReportSubmitted = "report.submitted"
	ReportVerified  = "report.verified"
	ReportAssigned  = "report.assigned"
	ReportResolved  = "report.resolved"
	ReportRejected  = "report.rejected"
	CreditsAwarded  = "credits.awarded"
	CreditsRedeemed = "credits.redeemed"
)

// Event is a domain event as delivered to clients.
type Event struct {
	Type      string    `json:"type"`
	Zone      string    `json:"zone,omitempty"`
	ReportSeq int64     `json:"report_seq,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Balance   int64     `json:"balance,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Sink receives committed events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(context.Context, Event) error { return nil }
