package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewLineInput is what the event creation service supplies per line.
type NewLineInput struct {
	VariantID    uuid.UUID  `json:"variant_id"`
	Quantity     int        `json:"quantity"`
	PickupDate   *time.Time `json:"pickup_date,omitempty"`
	ReturnByDate *time.Time `json:"return_by_date,omitempty"`
}

// requestLine validates a new line and produces its opening event.
func requestLine(eventID uuid.UUID, requester string, in NewLineInput, at time.Time) (LineRequestedEvent, error) {
	if in.Quantity <= 0 {
		return LineRequestedEvent{}, fmt.Errorf("%w: requested %d", ErrInvalidQuantity, in.Quantity)
	}
	if in.VariantID == uuid.Nil {
		return LineRequestedEvent{}, fmt.Errorf("%w: variant id is required", ErrInvalidInput)
	}
	if in.PickupDate != nil && in.ReturnByDate != nil && in.ReturnByDate.Before(*in.PickupDate) {
		return LineRequestedEvent{}, fmt.Errorf("%w: return-by date precedes pickup date", ErrInvalidInput)
	}
	return LineRequestedEvent{
		LineID:       uuid.New(),
		EventID:      eventID,
		VariantID:    in.VariantID,
		Quantity:     in.Quantity,
		Requester:    requester,
		PickupDate:   utcPtr(in.PickupDate),
		ReturnByDate: utcPtr(in.ReturnByDate),
		RequestedAt:  at,
	}, nil
}

// Approve validates the pending -> approved transition.
func (l *Line) Approve(actor, comment string, at time.Time) (LineDecidedEvent, error) {
	return l.decide(StatusApproved, actor, comment, at)
}

// Reject validates the pending -> rejected transition.
func (l *Line) Reject(actor, comment string, at time.Time) (LineDecidedEvent, error) {
	return l.decide(StatusRejected, actor, comment, at)
}

func (l *Line) decide(target Status, actor, comment string, at time.Time) (LineDecidedEvent, error) {
	if !l.Status.CanTransitionTo(target) {
		return LineDecidedEvent{}, fmt.Errorf("%w: cannot move line %s from %s to %s", ErrInvalidTransition, l.ID, l.Status, target)
	}
	return LineDecidedEvent{
		LineID:    l.ID,
		Decision:  target,
		Actor:     actor,
		Comment:   comment,
		DecidedAt: at,
	}, nil
}

// Receive validates a physical return. The status gate is checked before the quantity
// so a pending or rejected line always reports InvalidTransition.
func (l *Line) Receive(actor string, quantity int, comment string, at time.Time) (ReturnReceivedEvent, error) {
	if l.Status != StatusApproved {
		return ReturnReceivedEvent{}, fmt.Errorf("%w: line %s is %s, returns need an approved line", ErrInvalidTransition, l.ID, l.Status)
	}
	if quantity <= 0 {
		return ReturnReceivedEvent{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if remaining := l.RemainingQuantity(); quantity > remaining {
		return ReturnReceivedEvent{}, fmt.Errorf("%w: returning %d but only %d of %d outstanding on line %s",
			ErrOverReturn, quantity, remaining, l.Quantity, l.ID)
	}
	return ReturnReceivedEvent{Record: ReturnRecord{
		ID:         uuid.New(),
		LineID:     l.ID,
		Quantity:   quantity,
		Reason:     comment,
		Returner:   actor,
		ReturnedAt: at,
	}}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
