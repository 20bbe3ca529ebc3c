// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"sampleledger/internal/config"
	"sampleledger/internal/logger"
)

func main() {
	cfg, err := config.Load("api")
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

	router, err := newRouter(cfg.Gateway, log)
	if err != nil {
		log.Fatal("invalid upstream", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	log.Info("API gateway listening",
		zap.String("port", cfg.App.Port),
		zap.String("ledger", cfg.Gateway.LedgerURL),
		zap.String("variants", cfg.Gateway.VariantsURL),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(gw config.GatewayConfig, log *zap.Logger) (http.Handler, error) {
	ledgerURL, err := url.Parse(gw.LedgerURL)
	if err != nil {
		return nil, err
	}
	variantsURL, err := url.Parse(gw.VariantsURL)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	router.Mount("/api/v1/samples", http.StripPrefix("/api/v1/samples", proxy(ledgerURL, log)))
	router.Mount("/api/v1/variants", http.StripPrefix("/api/v1", proxy(variantsURL, log)))
	return router, nil
}

func proxy(target *url.URL, log *zap.Logger) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream unavailable",
			zap.String("upstream", target.Host),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}
	return p
}
