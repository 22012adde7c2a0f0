package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/card-enricher/internal/bootstrap"
	"github.com/kirillkom/card-enricher/internal/config"
	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/observability/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv_load_failed", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "worker", ConnectQueue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(app),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if cfg.SchedulerEnabled {
		dispatcher, err := app.NewDispatcher()
		if err != nil {
			slog.Error("dispatcher_init_failed", "error", err)
			os.Exit(1)
		}
		go dispatcher.Run(ctx)

		periodic, err := app.StartCron(ctx)
		if err != nil {
			slog.Error("cron_init_failed", "error", err)
			os.Exit(1)
		}
		defer func() { <-periodic.Stop().Done() }()
	}

	jobTimeout := time.Duration(cfg.JobTimeoutSeconds) * time.Second
	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "scheduler_enabled", cfg.SchedulerEnabled)
	err = app.Queue.SubscribeJobs(ctx, func(handlerCtx context.Context, job domain.Job) error {
		if !job.RunAt.IsZero() {
			app.Metrics.ObserveQueueLag(job.Action, time.Since(job.RunAt))
		}
		app.Metrics.StartJob()
		started := time.Now()

		jobCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()
		err := app.Handler.Handle(jobCtx, job)
		app.Metrics.FinishJob(job.Action, time.Since(started), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}

func metricsMux(app *bootstrap.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
