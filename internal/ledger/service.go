// internal/ledger/service.go
package ledger

import (
	"context"

	"github.com/google/uuid"

	"sampleledger/internal/salesevent"
)

// Service defines the interface for the sample request ledger.
type Service interface {
	CreateEvent(ctx context.Context, input CreateEventInput) (*EventRequest, error)
	Approve(ctx context.Context, lineID uuid.UUID, actor, comment string) (*Line, error)
	Reject(ctx context.Context, lineID uuid.UUID, actor, comment string) (*Line, error)
	Receive(ctx context.Context, lineID uuid.UUID, actor string, quantity int, comment string) (*Line, error)
	GetLine(ctx context.Context, lineID uuid.UUID) (*Line, error)
	History(ctx context.Context, lineID uuid.UUID) ([]AuditEntry, error)
	GetEvent(ctx context.Context, eventID uuid.UUID) (*EventRequest, error)
	ListLines(ctx context.Context, query ListQuery) (*LinePage, error)
	Summary(ctx context.Context, eventID uuid.UUID) (*EventSummary, error)
}

// CreateEventInput opens the lines of a new sales event. EventID may be left empty.
type CreateEventInput struct {
	EventID   uuid.UUID        `json:"event_id"`
	Details   salesevent.Event `json:"details"`
	Requester string           `json:"requester"`
	Lines     []NewLineInput   `json:"lines"`
}

// ListQuery filters and pages the line listing. A nil EventID lists every event.
type ListQuery struct {
	Status  StatusFilter
	EventID uuid.UUID
	Page    int
	Limit   int
}

// Metrics receives ledger activity. Implemented by telemetry.LedgerMetrics.
type Metrics interface {
	LinesRequested(ctx context.Context, n int)
	LineDecided(ctx context.Context, decision string)
	ReturnReceived(ctx context.Context, quantity int)
	OperationFailed(ctx context.Context, operation, kind string)
	ConflictRetried(ctx context.Context, operation string)
}

type nopMetrics struct{}

func (nopMetrics) LinesRequested(context.Context, int)             {}
func (nopMetrics) LineDecided(context.Context, string)             {}
func (nopMetrics) ReturnReceived(context.Context, int)             {}
func (nopMetrics) OperationFailed(context.Context, string, string) {}
func (nopMetrics) ConflictRetried(context.Context, string)         {}
