// Package salesevent validates the sales event a sample request is attached to.
// Each category carries its own set of required fields, kept in a lookup table.
package salesevent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrUnknownCategory = errors.New("unknown event category")

// Category is the sub-type of a field-sales event.
type Category string

const (
	CategoryVisit     Category = "visit"
	CategoryQuotation Category = "quotation"
	CategoryTest      Category = "test"
)

// Event is the scheduling data supplied with a sample request.
type Event struct {
	Category     Category   `json:"category"`
	Title        string     `json:"title,omitempty"`
	CustomerID   string     `json:"customer_id,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	Location     string     `json:"location,omitempty"`
	QuotationRef string     `json:"quotation_ref,omitempty"`
	TestProtocol string     `json:"test_protocol,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// ValidationError lists every required field missing for a category.
type ValidationError struct {
	Category Category
	Missing  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s event is missing required fields: %s", e.Category, strings.Join(e.Missing, ", "))
}

type fieldRule struct {
	name    string
	present func(Event) bool
}

var (
	customerRule  = fieldRule{"customer_id", func(e Event) bool { return strings.TrimSpace(e.CustomerID) != "" }}
	scheduleRule  = fieldRule{"scheduled_at", func(e Event) bool { return e.ScheduledAt != nil && !e.ScheduledAt.IsZero() }}
	locationRule  = fieldRule{"location", func(e Event) bool { return strings.TrimSpace(e.Location) != "" }}
	quotationRule = fieldRule{"quotation_ref", func(e Event) bool { return strings.TrimSpace(e.QuotationRef) != "" }}
	protocolRule  = fieldRule{"test_protocol", func(e Event) bool { return strings.TrimSpace(e.TestProtocol) != "" }}
)

var requiredFields = map[Category][]fieldRule{
	CategoryVisit:     {customerRule, scheduleRule, locationRule},
	CategoryQuotation: {customerRule, quotationRule},
	CategoryTest:      {customerRule, scheduleRule, protocolRule},
}

// Categories returns the known categories in a stable order.
func Categories() []Category {
	out := make([]Category, 0, len(requiredFields))
	for c := range requiredFields {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// RequiredFields returns the field names a category demands.
func RequiredFields(c Category) ([]string, error) {
	rules, ok := requiredFields[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names, nil
}

// Validate checks e against its category's rules.
func Validate(e Event) error {
	rules, ok := requiredFields[e.Category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, e.Category)
	}

	var missing []string
	for _, r := range rules {
		if !r.present(e) {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Category: e.Category, Missing: missing}
	}
	return nil
}
