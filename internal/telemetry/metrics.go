package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgerMetrics records request, decision and return activity. It satisfies ledger.Metrics.
type LedgerMetrics struct {
	linesRequested   metric.Int64Counter
	linesDecided     metric.Int64Counter
	returnsReceived  metric.Int64Counter
	returnedQuantity metric.Int64Counter
	failures         metric.Int64Counter
	conflictRetries  metric.Int64Counter
}

// NewLedgerMetrics registers the ledger counters on meter.
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	m := &LedgerMetrics{}
	counters := []struct {
		dst        *metric.Int64Counter
		name, desc string
		unit       string
	}{
		{&m.linesRequested, "ledger_lines_requested_total", "Request lines opened", "{line}"},
		{&m.linesDecided, "ledger_lines_decided_total", "Request lines approved or rejected", "{line}"},
		{&m.returnsReceived, "ledger_returns_received_total", "Return records appended", "{return}"},
		{&m.returnedQuantity, "ledger_returned_quantity_total", "Sample units handed back", "{unit}"},
		{&m.failures, "ledger_operation_failures_total", "Ledger operations that failed, by error kind", "{operation}"},
		{&m.conflictRetries, "ledger_conflict_retries_total", "Appends retried after a concurrent write", "{retry}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *LedgerMetrics) LinesRequested(ctx context.Context, n int) {
	if n > 0 {
		m.linesRequested.Add(ctx, int64(n))
	}
}

func (m *LedgerMetrics) LineDecided(ctx context.Context, decision string) {
	m.linesDecided.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func (m *LedgerMetrics) ReturnReceived(ctx context.Context, quantity int) {
	m.returnsReceived.Add(ctx, 1)
	m.returnedQuantity.Add(ctx, int64(quantity))
}

func (m *LedgerMetrics) OperationFailed(ctx context.Context, operation, kind string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("kind", kind),
	))
}

func (m *LedgerMetrics) ConflictRetried(ctx context.Context, operation string) {
	m.conflictRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
