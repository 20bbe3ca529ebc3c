// internal/ledger/domain.go
package ledger

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the approval state of a request line.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid checks if the status is a known Status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo checks if the status can move to target.
// Both decisions are terminal for the approval machine.
func (s Status) CanTransitionTo(target Status) bool {
	return s == StatusPending && (target == StatusApproved || target == StatusRejected)
}

// ReturnRecord is one physical hand-back of samples against a line. Never edited.
type ReturnRecord struct {
	ID         uuid.UUID `json:"id"`
	LineID     uuid.UUID `json:"line_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason,omitempty"`
	Returner   string    `json:"returner"`
	ReturnedAt time.Time `json:"returned_at"`
}

// Line is one requested quantity of one variant for one sales event.
type Line struct {
	ID           uuid.UUID      `json:"id"`
	EventID      uuid.UUID      `json:"event_id"`
	VariantID    uuid.UUID      `json:"variant_id"`
	Quantity     int            `json:"quantity"`
	Requester    string         `json:"requester"`
	Approver     string         `json:"approver,omitempty"`
	Status       Status         `json:"status"`
	PickupDate   *time.Time     `json:"pickup_date,omitempty"`
	ReturnByDate *time.Time     `json:"return_by_date,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Returns      []ReturnRecord `json:"returns"`
	CreatedAt    time.Time      `json:"created_at"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	Version      int            `json:"version"`
}

// ReturnedQuantity sums the return history.
func (l *Line) ReturnedQuantity() int {
	total := 0
	for _, r := range l.Returns {
		total += r.Quantity
	}
	return total
}

// RemainingQuantity is what is still out with the requester.
func (l *Line) RemainingQuantity() int {
	return l.Quantity - l.ReturnedQuantity()
}

// IsFullyReturned is derived from the return history on every call.
func (l *Line) IsFullyReturned() bool {
	return l.ReturnedQuantity() == l.Quantity
}

// IsNotReturned matches the "not_returned" listing filter.
func (l *Line) IsNotReturned() bool {
	return l.Status == StatusApproved && !l.IsFullyReturned()
}

// Clone returns a deep copy so callers cannot reach into ledger state.
func (l *Line) Clone() *Line {
	c := *l
	c.Returns = slices.Clone(l.Returns)
	if l.PickupDate != nil {
		t := *l.PickupDate
		c.PickupDate = &t
	}
	if l.ReturnByDate != nil {
		t := *l.ReturnByDate
		c.ReturnByDate = &t
	}
	if l.DecidedAt != nil {
		t := *l.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// AuditKind names an entry of a line's history.
type AuditKind string

const (
	AuditApproved AuditKind = "approved"
	AuditRejected AuditKind = "rejected"
	AuditReturned AuditKind = "returned"
)

// AuditEntry is one mutation of a line after it was requested.
type AuditEntry struct {
	LineID   uuid.UUID `json:"line_id"`
	Version  int       `json:"version"`
	Kind     AuditKind `json:"kind"`
	Actor    string    `json:"actor"`
	Quantity int       `json:"quantity,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	At       time.Time `json:"at"`
}

// EventSummary is the read-side rollup over a set of lines.
type EventSummary struct {
	Total               int             `json:"total"`
	Pending             int             `json:"pending"`
	Approved            int             `json:"approved"`
	Rejected            int             `json:"rejected"`
	NotReturned         int             `json:"not_returned"`
	FullyReturned       int             `json:"fully_returned"`
	RequestedQuantity   int             `json:"requested_quantity"`
	ReturnedQuantity    int             `json:"returned_quantity"`
	OutstandingQuantity int             `json:"outstanding_quantity"`
	OutstandingValue    decimal.Decimal `json:"outstanding_value"`
	UnpricedLines       int             `json:"unpriced_lines,omitempty"`
}

// EventRequest groups the lines of one sales event. It is never stored on its own.
type EventRequest struct {
	EventID      uuid.UUID    `json:"event_id"`
	FirstPickup  *time.Time   `json:"first_pickup,omitempty"`
	LastReturnBy *time.Time   `json:"last_return_by,omitempty"`
	Lines        []Line       `json:"lines"`
	Summary      EventSummary `json:"summary"`
}
