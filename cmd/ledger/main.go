// cmd/ledger/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sampleledger/internal/clients"
	"sampleledger/internal/config"
	"sampleledger/internal/ledger"
	"sampleledger/internal/logger"
	"sampleledger/internal/telemetry"
	"sampleledger/pkg/eventstore"
)

func main() {
	cfg, err := config.Load("ledger")
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(logger.Config{
		Service: cfg.App.Name,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
	})
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("failed to start tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	metrics, err := telemetry.NewLedgerMetrics(otel.Meter("sampleledger/ledger"))
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	variants := clients.NewVariantClient(clients.VariantClientConfig{
		BaseURL:         cfg.Variants.ServiceURL,
		Timeout:         cfg.Variants.Timeout,
		BreakerTimeout:  cfg.Variants.BreakerTimeout,
		BreakerFailures: cfg.Variants.BreakerFailures,
		Logger:          log,
	})

	svc := ledger.NewService(store, variants, ledger.Config{
		Logger:             log,
		Metrics:            metrics,
		MaxConflictRetries: cfg.Ledger.MaxConflictRetries,
		DefaultPageSize:    cfg.Ledger.DefaultPageSize,
		MaxPageSize:        cfg.Ledger.MaxPageSize,
		GapTimeout:         cfg.Ledger.GapTimeout,
	})
	limiter := rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimitRPS), cfg.HTTP.RateLimitBurst)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	ledger.NewHandler(svc, log, limiter).Routes(router)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	log.Info("starting ledger service",
		zap.String("port", cfg.App.Port),
		zap.String("store", cfg.Ledger.Store),
		zap.String("variants", cfg.Variants.ServiceURL),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (eventstore.Store, func()) {
	if cfg.Ledger.Store == "memory" {
		log.Warn("using in-memory event store; lines are lost on restart")
		return eventstore.NewMemoryStore(), func() {}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("database unreachable", zap.Error(err))
	}

	es := eventstore.NewEventStore(db)
	if err := es.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to prepare event store", zap.Error(err))
	}
	return es, func() { db.Close() }
}
