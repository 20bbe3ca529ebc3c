package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(tb testing.TB) *sql.DB {
	tb.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		tb.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		tb.Skipf("skipping postgres benchmarks: could not connect to postgres: %v", err)
	}

	if err := NewEventStore(db).EnsureSchema(context.Background()); err != nil {
		tb.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type benchPayload struct {
	Quantity int `json:"quantity"`
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		aggregateID := uuid.New()
		eventData, _ := json.Marshal(benchPayload{Quantity: i%5 + 1})
		events := []Event{{EventType: "LineRequested", EventData: eventData}}
		b.StartTimer()

		err := store.AppendEvents(context.Background(), aggregateID, "request_line", 0, events)
		if err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	// a line with a long partial-return history
	aggregateID := uuid.New()
	for i := 0; i < 10; i++ {
		eventData, _ := json.Marshal(benchPayload{Quantity: 1})
		events := []Event{{EventType: "ReturnReceived", EventData: eventData}}
		err := store.AppendEvents(context.Background(), aggregateID, "request_line", i, events)
		if err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := store.LoadEvents(context.Background(), aggregateID, 0, 0)
		if err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}

func BenchmarkMemoryAppendEvents(b *testing.B) {
	store := NewMemoryStore()
	eventData, _ := json.Marshal(benchPayload{Quantity: 1})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		err := store.AppendEvents(context.Background(), uuid.New(), "request_line", 0, []Event{{EventType: "LineRequested", EventData: eventData}})
		if err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}
