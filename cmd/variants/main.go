// cmd/variants/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"sampleledger/internal/config"
	"sampleledger/internal/logger"
	"sampleledger/internal/telemetry"
	"sampleledger/internal/variant"
)

func main() {
	cfg, err := config.Load("variants")
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

	var svc variant.Service
	if cfg.Ledger.Store == "memory" {
		catalog, err := seedCatalog(cfg.Variants.SeedFile)
		if err != nil {
			log.Fatal("failed to seed variants", zap.String("file", cfg.Variants.SeedFile), zap.Error(err))
		}
		svc = catalog
	} else {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		if _, err := db.ExecContext(ctx, variant.Schema); err != nil {
			log.Fatal("failed to prepare variants table", zap.Error(err))
		}
		svc = variant.NewPostgresCatalog(db)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	variant.NewHandler(svc).Routes(router)

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
		server.Shutdown(shutdownCtx)
	}()

	log.Info("starting variant service", zap.String("port", cfg.App.Port), zap.String("store", cfg.Ledger.Store))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

// seedCatalog loads a JSON array of variants; an empty path yields an empty catalog.
func seedCatalog(path string) (*variant.MemoryCatalog, error) {
	catalog := variant.NewMemoryCatalog()
	if path == "" {
		return catalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var variants []variant.Variant
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, err
	}
	for _, v := range variants {
		if !v.ProductType.IsValid() {
			return nil, fmt.Errorf("variant %s: unknown product type %q", v.ID, v.ProductType)
		}
		catalog.Put(v)
	}
	return catalog, nil
}
