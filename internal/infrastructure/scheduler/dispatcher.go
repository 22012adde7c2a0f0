package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"golang.org/x/time/rate"
)

const (
	releaseDelay  = 5 * time.Second
	purgeInterval = time.Hour
)

type DispatchObserver interface {
	ObservePublished(action domain.JobAction)
	ObserveReleased(action domain.JobAction)
}

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RatePerSec   float64
	Retention    time.Duration
}

func (c DispatcherConfig) normalize() DispatcherConfig {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 20
	}
	if out.Retention <= 0 {
		out.Retention = 7 * 24 * time.Hour
	}
	return out
}

// Dispatcher claims due jobs and publishes them to the worker queue.
type Dispatcher struct {
	store    ports.JobStore
	queue    ports.JobQueue
	limiter  *rate.Limiter
	observer DispatchObserver
	cfg      DispatcherConfig
	now      func() time.Time

	lastPurge time.Time
}

func NewDispatcher(store ports.JobStore, queue ports.JobQueue, observer DispatchObserver, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.normalize()
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		store:    store,
		queue:    queue,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher_started",
		"poll_interval_ms", d.cfg.PollInterval.Milliseconds(),
		"batch_size", d.cfg.BatchSize,
		"rate_per_sec", d.cfg.RatePerSec,
	)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			n, err := d.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("dispatch_failed", "error", err)
				break
			}
			// A full batch means more rows are probably due.
			if n < d.cfg.BatchSize {
				break
			}
		}
		d.maybePurge(ctx)

		select {
		case <-ctx.Done():
			slog.Info("dispatcher_stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and returns how many jobs were claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	jobs, err := d.store.ClaimDue(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}

	for _, job := range jobs {
		if err := d.limiter.Wait(ctx); err != nil {
			d.release(ctx, job, err)
			return len(jobs), err
		}
		if err := d.queue.PublishJob(ctx, job); err != nil {
			d.release(ctx, job, err)
			continue
		}
		if err := d.store.MarkDispatched(ctx, job.ID); err != nil {
			// The lease expires and the job is published again; handlers are idempotent.
			slog.Error("job_mark_dispatched_failed", "job_id", job.ID, "action", string(job.Action), "error", err)
			continue
		}
		if d.observer != nil {
			d.observer.ObservePublished(job.Action)
		}
		slog.Debug("job_dispatched",
			"job_id", job.ID,
			"action", string(job.Action),
			"card_id", job.CardID,
			"retry_count", job.RetryCount,
		)
	}
	return len(jobs), nil
}

func (d *Dispatcher) release(ctx context.Context, job domain.Job, cause error) {
	runAt := d.now().UTC().Add(releaseDelay)
	if err := d.store.Release(context.WithoutCancel(ctx), job.ID, runAt, cause.Error()); err != nil {
		slog.Error("job_release_failed", "job_id", job.ID, "error", err)
		return
	}
	if d.observer != nil {
		d.observer.ObserveReleased(job.Action)
	}
	slog.Warn("job_released",
		"job_id", job.ID,
		"action", string(job.Action),
		"card_id", job.CardID,
		"run_at", runAt,
		"error", cause,
	)
}

func (d *Dispatcher) maybePurge(ctx context.Context) {
	now := d.now()
	if !d.lastPurge.IsZero() && now.Sub(d.lastPurge) < purgeInterval {
		return
	}
	d.lastPurge = now
	purged, err := d.store.PurgeDispatched(ctx, now.UTC().Add(-d.cfg.Retention))
	if err != nil {
		slog.Warn("dispatched_jobs_purge_failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("dispatched_jobs_purged", "count", purged)
	}
}
