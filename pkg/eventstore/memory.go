package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory Store. The version check and the append happen
// under the same write lock, so it gives the same conflict semantics as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	log     []Event
	streams map[uuid.UUID][]int
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[uuid.UUID][]int),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	return m.AppendStreams(ctx, []Stream{{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		ExpectedVersion: expectedVersion,
		Events:          events,
	}})
}

// AppendStreams checks every expected version before writing anything.
func (m *MemoryStore) AppendStreams(_ context.Context, streams []Stream) error {
	if err := validateStreams(streams); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range streams {
		if len(m.streams[s.AggregateID]) != s.ExpectedVersion {
			return ErrConcurrencyConflict
		}
	}

	for _, s := range streams {
		for i, event := range s.Events {
			event.ID = int64(len(m.log) + 1)
			event.AggregateID = s.AggregateID
			event.AggregateType = s.AggregateType
			event.Version = s.ExpectedVersion + i + 1
			event.EventData = slices.Clone(event.EventData)
			if event.CreatedAt.IsZero() {
				event.CreatedAt = m.now()
			}
			m.log = append(m.log, event)
			m.streams[s.AggregateID] = append(m.streams[s.AggregateID], len(m.log)-1)
		}
	}
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []Event
	for _, idx := range m.streams[aggregateID] {
		event := m.log[idx]
		if event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		events = append(events, event)
	}
	return events, nil
}

func (m *MemoryStore) GetCurrentVersion(_ context.Context, aggregateID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[aggregateID]), nil
}

// StreamEvents returns up to batchSize events with an ID greater than fromID.
func (m *MemoryStore) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if fromID < 0 {
		fromID = 0
	}
	if fromID >= int64(len(m.log)) || batchSize <= 0 {
		return nil, nil
	}
	end := min(int(fromID)+batchSize, len(m.log))
	return slices.Clone(m.log[fromID:end]), nil
}
