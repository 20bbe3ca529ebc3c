package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sampleledger/pkg/eventstore"
)

// StatusFilter selects lines for listings. NotReturned is derived, not a stored status.
type StatusFilter string

const (
	FilterAll         StatusFilter = "all"
	FilterPending     StatusFilter = "pending"
	FilterApproved    StatusFilter = "approved"
	FilterRejected    StatusFilter = "rejected"
	FilterNotReturned StatusFilter = "not_returned"
)

// ParseStatusFilter accepts the query-string form; empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterApproved, FilterRejected, FilterNotReturned:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown status filter %q", ErrInvalidInput, s)
}

// Match reports whether l passes the filter.
func (f StatusFilter) Match(l *Line) bool {
	switch f {
	case FilterAll, "":
		return true
	case FilterNotReturned:
		return l.IsNotReturned()
	default:
		return l.Status == Status(f)
	}
}

// FilterLines keeps the lines matching f, preserving input order.
func FilterLines(lines []Line, f StatusFilter) []Line {
	out := make([]Line, 0, len(lines))
	for i := range lines {
		if f.Match(&lines[i]) {
			out = append(out, lines[i])
		}
	}
	return out
}

// SortNewestFirst orders lines by creation time descending, ties broken by id, so the
// result does not depend on input order.
func SortNewestFirst(lines []Line) {
	slices.SortStableFunc(lines, func(a, b Line) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
}

// LinePage is one page of a listing.
type LinePage struct {
	Items []Line `json:"items"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// Paginate slices lines into a 1-based page. Out of range pages are empty.
func Paginate(lines []Line, page, limit int) LinePage {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	result := LinePage{Items: []Line{}, Total: len(lines), Page: page, Limit: limit}
	start := (page - 1) * limit
	if start >= len(lines) {
		return result
	}
	end := min(start+limit, len(lines))
	result.Items = append(result.Items, lines[start:end]...)
	return result
}

// Summarize computes counts and quantity totals. OutstandingValue is left at zero;
// see Valuate.
func Summarize(lines []Line) EventSummary {
	s := EventSummary{OutstandingValue: decimal.Zero}
	for i := range lines {
		l := &lines[i]
		s.Total++
		switch l.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusRejected:
			s.Rejected++
		}
		if l.IsNotReturned() {
			s.NotReturned++
			s.OutstandingQuantity += l.RemainingQuantity()
		}
		if l.Status == StatusApproved && l.IsFullyReturned() {
			s.FullyReturned++
		}
		s.RequestedQuantity += l.Quantity
		s.ReturnedQuantity += l.ReturnedQuantity()
	}
	return s
}

// Valuate prices the outstanding quantity of approved lines. It returns the value and the
// number of outstanding lines whose variant had no price.
func Valuate(lines []Line, prices map[uuid.UUID]decimal.Decimal) (decimal.Decimal, int) {
	total := decimal.Zero
	unpriced := 0
	for i := range lines {
		l := &lines[i]
		if !l.IsNotReturned() {
			continue
		}
		price, ok := prices[l.VariantID]
		if !ok {
			unpriced++
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(l.RemainingQuantity()))))
	}
	return total, unpriced
}

// BuildEventRequest groups lines of one event with their summary and schedule bounds.
func BuildEventRequest(eventID uuid.UUID, lines []Line) *EventRequest {
	sorted := slices.Clone(lines)
	SortNewestFirst(sorted)

	req := &EventRequest{EventID: eventID, Lines: sorted, Summary: Summarize(sorted)}
	for i := range sorted {
		if p := sorted[i].PickupDate; p != nil && (req.FirstPickup == nil || p.Before(*req.FirstPickup)) {
			t := *p
			req.FirstPickup = &t
		}
		if r := sorted[i].ReturnByDate; r != nil && (req.LastReturnBy == nil || r.After(*req.LastReturnBy)) {
			t := *r
			req.LastReturnBy = &t
		}
	}
	return req
}

// maxTrackedGap caps how many missing ids one jump of the sequence may register.
const maxTrackedGap = 1000

// Projector keeps folded lines in memory by tailing the event stream.
//
// Postgres hands out ids before commit, so a reader can see id n+1 while id n is still
// in flight. Ids skipped that way are kept as gaps and streamed again on every CatchUp
// until they show up or outlive gapTimeout (a rolled back insert never shows up).
type Projector struct {
	store      eventstore.Store
	batchSize  int
	gapTimeout time.Duration
	now        func() time.Time

	catchUp sync.Mutex
	mu      sync.RWMutex
	cursor  int64
	gaps    map[int64]time.Time
	lines   map[uuid.UUID]*Line
}

func NewProjector(store eventstore.Store, batchSize int) *Projector {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Projector{
		store:      store,
		batchSize:  batchSize,
		gapTimeout: 30 * time.Second,
		now:        time.Now,
		gaps:       make(map[int64]time.Time),
		lines:      make(map[uuid.UUID]*Line),
	}
}

// CatchUp applies every event appended since the last call, including events whose
// ids were skipped earlier.
func (p *Projector) CatchUp(ctx context.Context) error {
	p.catchUp.Lock()
	defer p.catchUp.Unlock()

	from := p.scanFrom()
	for {
		batch, err := p.store.StreamEvents(ctx, from, p.batchSize)
		if err != nil {
			return fmt.Errorf("stream events after %d: %w", from, err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := p.applyBatch(ctx, batch); err != nil {
			return err
		}
		if len(batch) < p.batchSize {
			return nil
		}
		from = batch[len(batch)-1].ID
	}
}

// scanFrom expires old gaps and returns the id to stream after.
func (p *Projector) scanFrom() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.cursor
	cutoff := p.now().Add(-p.gapTimeout)
	for id, seen := range p.gaps {
		if seen.Before(cutoff) {
			delete(p.gaps, id)
			continue
		}
		from = min(from, id-1)
	}
	return from
}

func (p *Projector) applyBatch(ctx context.Context, batch []eventstore.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range batch {
		if e.ID > p.cursor {
			if e.ID-p.cursor-1 <= maxTrackedGap {
				seen := p.now()
				for id := p.cursor + 1; id < e.ID; id++ {
					p.gaps[id] = seen
				}
			}
			p.cursor = e.ID
		} else {
			delete(p.gaps, e.ID)
		}

		if e.AggregateType != AggregateType {
			continue
		}
		line := p.lines[e.AggregateID]
		current := 0
		if line != nil {
			current = line.Version
		}
		switch {
		case e.Version <= current:
			continue
		case e.Version == current+1:
			c, err := decodeChange(e)
			if err != nil {
				return fmt.Errorf("project line %s: %w", e.AggregateID, err)
			}
			if line == nil {
				line = &Line{}
				p.lines[e.AggregateID] = line
			}
			line.apply(c, e.Version)
		default:
			// an earlier event of this line is still in a gap; reload the stream
			events, err := p.store.LoadEvents(ctx, e.AggregateID, 0, 0)
			if err != nil {
				return fmt.Errorf("reload line %s: %w", e.AggregateID, err)
			}
			folded, err := Fold(events)
			if err != nil {
				return fmt.Errorf("reload line %s: %w", e.AggregateID, err)
			}
			p.lines[e.AggregateID] = folded
		}
	}
	return nil
}

// Lines returns copies of all projected lines, optionally limited to one event.
func (p *Projector) Lines(eventID uuid.UUID) []Line {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Line, 0, len(p.lines))
	for _, l := range p.lines {
		if eventID != uuid.Nil && l.EventID != eventID {
			continue
		}
		out = append(out, *l.Clone())
	}
	return out
}

// Observe folds a line the service just wrote, so reads do not wait for CatchUp.
func (p *Projector) Observe(l *Line) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.lines[l.ID]; ok && cur.Version >= l.Version {
		return
	}
	p.lines[l.ID] = l.Clone()
}

// Cursor is the id of the last event the projector has seen.
func (p *Projector) Cursor() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Gaps is the number of skipped ids still awaited.
func (p *Projector) Gaps() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.gaps)
}
