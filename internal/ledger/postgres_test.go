package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleledger/pkg/eventstore"
)

// postgresStore connects to PGHOST/PGDATABASE and skips the test when no server answers.
func postgresStore(t *testing.T) *eventstore.EventStore {
	t.Helper()
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres ledger tests: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := eventstore.NewEventStore(db)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPostgresConcurrentReturnsPreventOverReturn(t *testing.T) {
	store := postgresStore(t)
	f := newFixture(t)
	svc := f.service(store, Config{MaxConflictRetries: 50})

	req, err := svc.CreateEvent(testCtx, CreateEventInput{
		EventID:   uuid.New(),
		Details:   f.visit(),
		Requester: "rep-1",
		Lines:     []NewLineInput{{VariantID: f.shoe.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	lineID := req.Lines[0].ID
	_, err = svc.Approve(testCtx, lineID, "alice", "")
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Receive(testCtx, lineID, "warehouse", 1, ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	line, err := svc.GetLine(testCtx, lineID)
	require.NoError(t, err)
	assert.Equal(t, 3, ok, "only the requested quantity can come back")
	assert.Equal(t, 3, line.ReturnedQuantity())
	assert.True(t, line.IsFullyReturned())

	history, err := svc.History(testCtx, lineID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}
