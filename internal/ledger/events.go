package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sampleledger/pkg/eventstore"
)

// AggregateType tags request line streams in the event store.
const AggregateType = "request_line"

const (
	EventLineRequested  = "LineRequested"
	EventLineApproved   = "LineApproved"
	EventLineRejected   = "LineRejected"
	EventReturnReceived = "ReturnReceived"
)

// change is a validated state change waiting to be appended.
type change interface {
	eventType() string
	actor() string
}

// LineRequestedEvent opens a line. It carries the full creation attribute set.
type LineRequestedEvent struct {
	LineID       uuid.UUID  `json:"line_id"`
	EventID      uuid.UUID  `json:"event_id"`
	VariantID    uuid.UUID  `json:"variant_id"`
	Quantity     int        `json:"quantity"`
	Requester    string     `json:"requester"`
	PickupDate   *time.Time `json:"pickup_date,omitempty"`
	ReturnByDate *time.Time `json:"return_by_date,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
}

// LineDecidedEvent records an approval or a rejection.
type LineDecidedEvent struct {
	LineID    uuid.UUID `json:"line_id"`
	Decision  Status    `json:"decision"`
	Actor     string    `json:"actor"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ReturnReceivedEvent appends one return record.
type ReturnReceivedEvent struct {
	Record ReturnRecord `json:"record"`
}

func (LineRequestedEvent) eventType() string { return EventLineRequested }
func (e LineRequestedEvent) actor() string   { return e.Requester }

func (e LineDecidedEvent) eventType() string {
	if e.Decision == StatusApproved {
		return EventLineApproved
	}
	return EventLineRejected
}
func (e LineDecidedEvent) actor() string { return e.Actor }

func (ReturnReceivedEvent) eventType() string { return EventReturnReceived }
func (e ReturnReceivedEvent) actor() string   { return e.Record.Returner }

func encodeChange(c change, at time.Time) (eventstore.Event, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return eventstore.Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return eventstore.Event{
		AggregateType: AggregateType,
		EventType:     c.eventType(),
		EventData:     data,
		Metadata:      map[string]interface{}{"actor": c.actor()},
		CreatedAt:     at,
	}, nil
}

func decodeChange(e eventstore.Event) (change, error) {
	var (
		c   change
		err error
	)
	switch e.EventType {
	case EventLineRequested:
		var p LineRequestedEvent
		err = json.Unmarshal(e.EventData, &p)
		c = p
	case EventLineApproved, EventLineRejected:
		var p LineDecidedEvent
		err = json.Unmarshal(e.EventData, &p)
		if err == nil && (!p.Decision.IsValid() || p.Decision == StatusPending) {
			err = fmt.Errorf("decision %q is not a final status", p.Decision)
		}
		c = p
	case EventReturnReceived:
		var p ReturnReceivedEvent
		err = json.Unmarshal(e.EventData, &p)
		c = p
	default:
		return nil, fmt.Errorf("unknown event type %q at version %d", e.EventType, e.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s at version %d: %w", e.EventType, e.Version, err)
	}
	return c, nil
}

// apply folds one change into the line. Validation happens before a change exists,
// so apply never fails.
func (l *Line) apply(c change, version int) {
	switch e := c.(type) {
	case LineRequestedEvent:
		l.ID = e.LineID
		l.EventID = e.EventID
		l.VariantID = e.VariantID
		l.Quantity = e.Quantity
		l.Requester = e.Requester
		l.PickupDate = e.PickupDate
		l.ReturnByDate = e.ReturnByDate
		l.CreatedAt = e.RequestedAt
		l.Status = StatusPending
		l.Returns = []ReturnRecord{}
	case LineDecidedEvent:
		decidedAt := e.DecidedAt
		l.Status = e.Decision
		l.Approver = e.Actor
		l.Reason = e.Comment
		l.DecidedAt = &decidedAt
	case ReturnReceivedEvent:
		l.Returns = append(l.Returns, e.Record)
		if e.Record.Reason != "" {
			l.Reason = e.Record.Reason
		}
	}
	l.Version = version
}

// Fold rebuilds a line from its event stream.
func Fold(events []eventstore.Event) (*Line, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	line := &Line{}
	for i, e := range events {
		if e.Version != i+1 {
			return nil, fmt.Errorf("line %s: expected version %d, got %d", e.AggregateID, i+1, e.Version)
		}
		c, err := decodeChange(e)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", e.AggregateID, err)
		}
		if i == 0 {
			if _, ok := c.(LineRequestedEvent); !ok {
				return nil, fmt.Errorf("line %s: stream starts with %s", e.AggregateID, e.EventType)
			}
		}
		line.apply(c, e.Version)
	}
	return line, nil
}

// auditEntry maps a post-creation event to its history entry.
func auditEntry(e eventstore.Event) (AuditEntry, bool, error) {
	c, err := decodeChange(e)
	if err != nil {
		return AuditEntry{}, false, err
	}
	switch p := c.(type) {
	case LineDecidedEvent:
		kind := AuditApproved
		if p.Decision == StatusRejected {
			kind = AuditRejected
		}
		return AuditEntry{LineID: p.LineID, Version: e.Version, Kind: kind, Actor: p.Actor, Comment: p.Comment, At: p.DecidedAt}, true, nil
	case ReturnReceivedEvent:
		r := p.Record
		return AuditEntry{LineID: r.LineID, Version: e.Version, Kind: AuditReturned, Actor: r.Returner, Quantity: r.Quantity, Comment: r.Reason, At: r.ReturnedAt}, true, nil
	}
	return AuditEntry{}, false, nil
}
