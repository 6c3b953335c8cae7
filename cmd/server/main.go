// cmd/server runs the TSA event ledger HTTP service: the feature endpoints
// that record into the ledger, the ledger read/append API and the live
// WebSocket and SSE streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmerrifield20/tsa-ledger/internal/activity"
	"github.com/jmerrifield20/tsa-ledger/internal/auth"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"github.com/jmerrifield20/tsa-ledger/internal/server/handler"
	"github.com/jmerrifield20/tsa-ledger/internal/webhooks"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if cfg.LogDevelopment {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	configureDeadlockDetection(cfg, logger)

	// ── Event ledger ──────────────────────────────────────────────────────────
	startCtx := context.Background()
	backend, closeBackendDeps, err := openBackend(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackendDeps()

	store, err := eventledger.OpenChainStore(startCtx, backend, logger)
	if err != nil {
		var corrupt *eventledger.CorruptChainError
		if errors.As(err, &corrupt) {
			logger.Error("event ledger failed verification; refusing to start",
				zap.String("source", corrupt.Source),
				zap.Int("broken_index", corrupt.Index),
			)
		}
		return fmt.Errorf("open event ledger: %w", err)
	}

	notifier := eventledger.NewNotifier(cfg.SubscriberBuffer, logger)
	notifier.SetActiveRecorder(handler.SetLedgerSubscribers)
	notifier.SetDropRecorder(handler.RecordSubscriberDrop)

	ledger := eventledger.New(store, notifier, logger)
	ledger.SetAppendRecorder(handler.RecordLedgerAppend)
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("close event ledger", zap.Error(err))
		}
	}()

	logger.Info("event ledger ready",
		zap.String("backend", backend.String()),
		zap.Int("entries", ledger.Len()),
		zap.String("root", ledger.Root()),
	)

	// ── Writer auth ───────────────────────────────────────────────────────────
	var writerAuth *auth.TokenIssuer
	if cfg.WriterSecret != "" {
		writerAuth, err = auth.NewTokenIssuer([]byte(cfg.WriterSecret), auth.DefaultIssuer, cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("writer auth: %w", err)
		}
		logger.Info("ledger appends require a writer token")
	} else {
		logger.Warn("auth.writer_secret not set; POST /api/v1/ledger/entries is open")
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if len(cfg.Webhooks) > 0 {
		fwd := webhooks.NewForwarder(ledger, cfg.Webhooks, logger)
		fwd.SetMetricsRecorder(handler.RecordWebhookDelivery)
		go func() {
			if err := fwd.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webhook forwarder stopped", zap.Error(err))
			}
		}()
		logger.Info("webhook forwarding enabled", zap.Int("sinks", len(cfg.Webhooks)))
	}

	svc := activity.NewService(ledger, logger)
	router := newRouter(bgCtx, cfg, ledger, svc, writerAuth, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Streams never go idle, so end them as soon as shutdown begins.
	httpSrv.RegisterOnShutdown(notifier.Close)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
