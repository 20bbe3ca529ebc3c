// internal/ledger/implementation.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sampleledger/internal/logger"
	"sampleledger/internal/salesevent"
	"sampleledger/internal/variant"
	"sampleledger/pkg/eventstore"
)

const (
	opCreateEvent = "create_event"
	opApprove     = "approve"
	opReject      = "reject"
	opReceive     = "receive"
	opGetLine     = "get_line"
	opHistory     = "history"
	opGetEvent    = "get_event"
	opListLines   = "list_lines"
	opSummary     = "summary"
)

// Config tunes the ledger service. Zero values fall back to defaults.
type Config struct {
	Logger             *zap.Logger
	Metrics            Metrics
	Tracer             trace.Tracer
	Clock              func() time.Time
	MaxConflictRetries int
	DefaultPageSize    int
	MaxPageSize        int
	ProjectorBatch     int
	GapTimeout         time.Duration
}

// service implements the Service interface.
type service struct {
	store     eventstore.Store
	variants  variant.Service
	projector *Projector
	metrics   Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	maxRetries      int
	defaultPageSize int
	maxPageSize     int
}

// NewService creates a new ledger service instance.
func NewService(store eventstore.Store, variants variant.Service, cfg Config) Service {
	s := &service{
		store:           store,
		variants:        variants,
		projector:       NewProjector(store, cfg.ProjectorBatch),
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		tracer:          cfg.Tracer,
		now:             cfg.Clock,
		maxRetries:      cfg.MaxConflictRetries,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("sampleledger/ledger")
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.projector.now = s.now
	if cfg.GapTimeout > 0 {
		s.projector.gapTimeout = cfg.GapTimeout
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 5
	}
	if s.defaultPageSize <= 0 {
		s.defaultPageSize = 20
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = 100
	}
	return s
}

// CreateEvent validates the sales event and opens one pending line per input line.
// The lines are appended together, so a failed create opens none of them.
func (s *service) CreateEvent(ctx context.Context, input CreateEventInput) (*EventRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.create_event",
		trace.WithAttributes(attribute.Int("line.count", len(input.Lines))),
	)
	defer span.End()

	if err := salesevent.Validate(input.Details); err != nil {
		return nil, s.fail(ctx, span, opCreateEvent, fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}

	eventID := input.EventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	span.SetAttributes(attribute.String("event.id", eventID.String()))

	at := s.now()
	opened := make([]LineRequestedEvent, 0, len(input.Lines))
	checked := make(map[uuid.UUID]bool)
	for i, in := range input.Lines {
		ev, err := requestLine(eventID, input.Requester, in, at)
		if err != nil {
			return nil, s.fail(ctx, span, opCreateEvent, fmt.Errorf("line %d: %w", i, err))
		}
		if !checked[in.VariantID] {
			if _, err := s.variants.Lookup(ctx, in.VariantID); err != nil {
				return nil, s.fail(ctx, span, opCreateEvent, fmt.Errorf("line %d: variant %s: %w", i, in.VariantID, err))
			}
			checked[in.VariantID] = true
		}
		opened = append(opened, ev)
	}

	streams := make([]eventstore.Stream, 0, len(opened))
	for _, ev := range opened {
		event, err := encodeChange(ev, at)
		if err != nil {
			return nil, s.fail(ctx, span, opCreateEvent, err)
		}
		streams = append(streams, eventstore.Stream{
			AggregateID:   ev.LineID,
			AggregateType: AggregateType,
			Events:        []eventstore.Event{event},
		})
	}
	if len(streams) > 0 {
		if err := s.store.AppendStreams(ctx, streams); err != nil {
			return nil, s.fail(ctx, span, opCreateEvent, fmt.Errorf("open %d lines: %w", len(streams), err))
		}
	}

	lines := make([]Line, 0, len(opened))
	for _, ev := range opened {
		line := &Line{}
		line.apply(ev, 1)
		s.projector.Observe(line)
		lines = append(lines, *line)
	}

	s.metrics.LinesRequested(ctx, len(lines))
	logger.FromContext(ctx, s.logger).Info("event created",
		zap.String("event_id", eventID.String()),
		zap.String("category", string(input.Details.Category)),
		zap.String("requester", input.Requester),
		zap.Int("lines", len(lines)),
	)
	return BuildEventRequest(eventID, lines), nil
}

func (s *service) Approve(ctx context.Context, lineID uuid.UUID, actor, comment string) (*Line, error) {
	return s.decide(ctx, opApprove, lineID, actor, func(l *Line, at time.Time) (change, error) {
		return l.Approve(actor, comment, at)
	})
}

func (s *service) Reject(ctx context.Context, lineID uuid.UUID, actor, comment string) (*Line, error) {
	return s.decide(ctx, opReject, lineID, actor, func(l *Line, at time.Time) (change, error) {
		return l.Reject(actor, comment, at)
	})
}

func (s *service) decide(ctx context.Context, op string, lineID uuid.UUID, actor string, fn func(*Line, time.Time) (change, error)) (*Line, error) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op,
		trace.WithAttributes(
			attribute.String("line.id", lineID.String()),
			attribute.String("actor", actor),
		),
	)
	defer span.End()

	line, err := s.mutate(ctx, op, lineID, fn)
	if err != nil {
		return nil, s.fail(ctx, span, op, err, zap.String("line_id", lineID.String()), zap.String("actor", actor))
	}

	s.metrics.LineDecided(ctx, string(line.Status))
	logger.FromContext(ctx, s.logger).Info("line decided",
		zap.String("line_id", line.ID.String()),
		zap.String("event_id", line.EventID.String()),
		zap.String("actor", actor),
		zap.String("status", string(line.Status)),
	)
	return line, nil
}

// Receive records a physical return against an approved line.
func (s *service) Receive(ctx context.Context, lineID uuid.UUID, actor string, quantity int, comment string) (*Line, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.receive",
		trace.WithAttributes(
			attribute.String("line.id", lineID.String()),
			attribute.String("actor", actor),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	line, err := s.mutate(ctx, opReceive, lineID, func(l *Line, at time.Time) (change, error) {
		return l.Receive(actor, quantity, comment, at)
	})
	if err != nil {
		return nil, s.fail(ctx, span, opReceive, err,
			zap.String("line_id", lineID.String()),
			zap.String("actor", actor),
			zap.Int("quantity", quantity),
		)
	}

	s.metrics.ReturnReceived(ctx, quantity)
	logger.FromContext(ctx, s.logger).Info("return received",
		zap.String("line_id", line.ID.String()),
		zap.String("actor", actor),
		zap.Int("quantity", quantity),
		zap.Int("returned", line.ReturnedQuantity()),
		zap.Int("requested", line.Quantity),
		zap.Bool("fully_returned", line.IsFullyReturned()),
	)
	return line, nil
}

// mutate runs the load, fold, validate, append cycle, restarting it from fresh state
// whenever another writer appended to the line first.
func (s *service) mutate(ctx context.Context, op string, lineID uuid.UUID, fn func(*Line, time.Time) (change, error)) (*Line, error) {
	for attempt := 0; ; attempt++ {
		line, err := s.load(ctx, lineID)
		if err != nil {
			return nil, err
		}

		at := s.now()
		c, err := fn(line, at)
		if err != nil {
			return nil, err
		}
		event, err := encodeChange(c, at)
		if err != nil {
			return nil, err
		}

		err = s.store.AppendEvents(ctx, lineID, AggregateType, line.Version, []eventstore.Event{event})
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			if attempt >= s.maxRetries {
				return nil, fmt.Errorf("%w: line %s after %d attempts", ErrConflict, lineID, attempt+1)
			}
			s.metrics.ConflictRetried(ctx, op)
			trace.SpanFromContext(ctx).AddEvent("conflict.retry", trace.WithAttributes(attribute.Int("attempt", attempt+1)))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append to line %s: %w", lineID, err)
		}

		line.apply(c, line.Version+1)
		s.projector.Observe(line)
		return line.Clone(), nil
	}
}

func (s *service) load(ctx context.Context, lineID uuid.UUID) (*Line, error) {
	events, err := s.store.LoadEvents(ctx, lineID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load line %s: %w", lineID, err)
	}
	line, err := Fold(events)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: line %s", ErrNotFound, lineID)
	}
	return line, err
}

func (s *service) GetLine(ctx context.Context, lineID uuid.UUID) (*Line, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_line",
		trace.WithAttributes(attribute.String("line.id", lineID.String())),
	)
	defer span.End()

	line, err := s.load(ctx, lineID)
	if err != nil {
		return nil, s.fail(ctx, span, opGetLine, err, zap.String("line_id", lineID.String()))
	}
	return line, nil
}

// History lists approvals, rejections and returns of a line in the order they happened.
func (s *service) History(ctx context.Context, lineID uuid.UUID) ([]AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.history",
		trace.WithAttributes(attribute.String("line.id", lineID.String())),
	)
	defer span.End()

	events, err := s.store.LoadEvents(ctx, lineID, 0, 0)
	if err != nil {
		return nil, s.fail(ctx, span, opHistory, fmt.Errorf("load line %s: %w", lineID, err))
	}
	if len(events) == 0 {
		return nil, s.fail(ctx, span, opHistory, fmt.Errorf("%w: line %s", ErrNotFound, lineID))
	}

	entries := make([]AuditEntry, 0, len(events)-1)
	for _, e := range events {
		entry, ok, err := auditEntry(e)
		if err != nil {
			return nil, s.fail(ctx, span, opHistory, fmt.Errorf("line %s: %w", lineID, err))
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *service) GetEvent(ctx context.Context, eventID uuid.UUID) (*EventRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_event",
		trace.WithAttributes(attribute.String("event.id", eventID.String())),
	)
	defer span.End()

	if err := s.catchUp(ctx, span); err != nil {
		return nil, s.fail(ctx, span, opGetEvent, err)
	}
	lines := s.projector.Lines(eventID)
	if eventID == uuid.Nil || len(lines) == 0 {
		return nil, s.fail(ctx, span, opGetEvent, fmt.Errorf("%w: event %s", ErrNotFound, eventID))
	}

	req := BuildEventRequest(eventID, lines)
	req.Summary.OutstandingValue, req.Summary.UnpricedLines = s.valuate(ctx, req.Lines)
	return req, nil
}

func (s *service) ListLines(ctx context.Context, query ListQuery) (*LinePage, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.list_lines",
		trace.WithAttributes(
			attribute.String("status", string(query.Status)),
			attribute.Int("page", query.Page),
			attribute.Int("limit", query.Limit),
		),
	)
	defer span.End()

	filter, err := ParseStatusFilter(string(query.Status))
	if err != nil {
		return nil, s.fail(ctx, span, opListLines, err)
	}
	if err := s.catchUp(ctx, span); err != nil {
		return nil, s.fail(ctx, span, opListLines, err)
	}

	lines := FilterLines(s.projector.Lines(query.EventID), filter)
	SortNewestFirst(lines)
	page := Paginate(lines, query.Page, s.pageSize(query.Limit))
	return &page, nil
}

func (s *service) catchUp(ctx context.Context, span trace.Span) error {
	if err := s.projector.CatchUp(ctx); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int64("projector.cursor", s.projector.Cursor()),
		attribute.Int("projector.gaps", s.projector.Gaps()),
	)
	return nil
}

func (s *service) pageSize(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultPageSize
	case limit > s.maxPageSize:
		return s.maxPageSize
	}
	return limit
}

// Summary rolls up one event, or every line when eventID is nil.
func (s *service) Summary(ctx context.Context, eventID uuid.UUID) (*EventSummary, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.summary",
		trace.WithAttributes(attribute.String("event.id", eventID.String())),
	)
	defer span.End()

	if err := s.catchUp(ctx, span); err != nil {
		return nil, s.fail(ctx, span, opSummary, err)
	}
	lines := s.projector.Lines(eventID)
	if eventID != uuid.Nil && len(lines) == 0 {
		return nil, s.fail(ctx, span, opSummary, fmt.Errorf("%w: event %s", ErrNotFound, eventID))
	}

	summary := Summarize(lines)
	summary.OutstandingValue, summary.UnpricedLines = s.valuate(ctx, lines)
	return &summary, nil
}

// valuate resolves unit prices of outstanding variants. Lookup failures leave the
// line unpriced rather than failing the read.
func (s *service) valuate(ctx context.Context, lines []Line) (decimal.Decimal, int) {
	prices := make(map[uuid.UUID]decimal.Decimal)
	failed := make(map[uuid.UUID]bool)
	for i := range lines {
		id := lines[i].VariantID
		if !lines[i].IsNotReturned() || failed[id] {
			continue
		}
		if _, ok := prices[id]; ok {
			continue
		}
		v, err := s.variants.Lookup(ctx, id)
		if err != nil {
			failed[id] = true
			logger.FromContext(ctx, s.logger).Warn("variant price unavailable",
				zap.String("variant_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		prices[id] = v.UnitPrice
	}
	return Valuate(lines, prices)
}

// fail records err on the span, the failure counter and the log, and returns it unchanged.
func (s *service) fail(ctx context.Context, span trace.Span, op string, err error, fields ...zap.Field) error {
	kind := KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	s.metrics.OperationFailed(ctx, op, kind)

	fields = append(fields, zap.String("operation", op), zap.String("kind", kind), zap.Error(err))
	log := logger.FromContext(ctx, s.logger)
	if IsDomainError(err) {
		log.Warn("ledger operation rejected", fields...)
	} else {
		log.Error("ledger operation failed", fields...)
	}
	return err
}
