package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sgolovin/community-docs/internal/bootstrap"
	"github.com/sgolovin/community-docs/internal/config"
	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/infrastructure/scheduler"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "docs-batch-worker")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	cron, err := scheduler.NewCron(cfg.CronSpec, app.Runner, app.Logger)
	if err != nil {
		log.Fatalf("cron error: %v", err)
	}
	cron.Start()
	defer cron.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", app.BatchMetrics.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux,
	}
	go func() {
		app.Logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	app.Logger.Info("worker subscribed", "subject", cfg.NATSSubject, "cron", cfg.CronSpec)
	err = app.Queue.SubscribeStreamActivity(ctx, func(handlerCtx context.Context, streamID string) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		err := app.Runner.ProcessStream(runCtx, streamID)
		if errors.Is(err, domain.ErrRunInProgress) {
			app.Logger.Info("stream nudge skipped, run in progress", "stream_id", streamID)
			return nil
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
