package ledger

import (
	"errors"

	"sampleledger/internal/salesevent"
	"sampleledger/internal/variant"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOverReturn        = errors.New("return exceeds outstanding quantity")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("line was modified concurrently, retries exhausted")
)

// Error kinds reported to callers.
const (
	KindNotFound          = "NotFound"
	KindInvalidTransition = "InvalidTransition"
	KindOverReturn        = "OverReturn"
	KindInvalidQuantity   = "InvalidQuantity"
	KindInvalidInput      = "InvalidInput"
	KindConflict          = "Conflict"
	KindInternal          = "Internal"
)

// KindOf classifies err into one of the error kinds.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, variant.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrOverReturn):
		return KindOverReturn
	case errors.Is(err, ErrInvalidQuantity):
		return KindInvalidQuantity
	case errors.Is(err, ErrInvalidInput), errors.Is(err, salesevent.ErrUnknownCategory):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	var verr *salesevent.ValidationError
	if errors.As(err, &verr) {
		return KindInvalidInput
	}
	return KindInternal
}

// IsDomainError reports whether err is a validation outcome rather than an infrastructure failure.
func IsDomainError(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindInternal
}
