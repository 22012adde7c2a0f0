package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// RetryDecision records what happened after a failed attempt.
type RetryDecision struct {
	Scheduled bool
	Delay     time.Duration
	Exhausted bool
}

// Retrier turns a failed attempt into a rescheduled job or a give-up decision.
// The retry count travels inside the job so the backoff index only moves forward.
type Retrier struct {
	scheduler ports.Scheduler
}

func NewRetrier(scheduler ports.Scheduler) *Retrier {
	return &Retrier{scheduler: scheduler}
}

// Run executes call once. On failure the same job is scheduled again with the
// next delay from policy; the returned error is the call's error.
func (r *Retrier) Run(
	ctx context.Context,
	policy domain.RetryPolicy,
	job domain.Job,
	call func(context.Context) error,
) (RetryDecision, error) {
	err := call(ctx)
	if err == nil {
		return RetryDecision{}, nil
	}
	decision, scheduleErr := r.Decide(ctx, policy, job, err)
	if scheduleErr != nil {
		return decision, fmt.Errorf("%w; schedule retry: %v", err, scheduleErr)
	}
	return decision, err
}

// Decide schedules the next retry for job under policy, or reports exhaustion.
func (r *Retrier) Decide(ctx context.Context, policy domain.RetryPolicy, job domain.Job, cause error) (RetryDecision, error) {
	delay, ok := policy.Next(job.RetryCount)
	if !ok {
		slog.Warn("retry_exhausted",
			"policy", policy.Name,
			"action", string(job.Action),
			"card_id", job.CardID,
			"retry_count", job.RetryCount,
			"error", cause,
		)
		return RetryDecision{Exhausted: true}, nil
	}

	next := domain.Job{
		Action:     job.Action,
		CardID:     job.CardID,
		Cursor:     job.Cursor,
		Chain:      job.Chain,
		RetryCount: job.RetryCount + 1,
	}
	if err := r.scheduler.RunAfter(ctx, delay, next); err != nil {
		return RetryDecision{Exhausted: true}, err
	}

	slog.Info("retry_scheduled",
		"policy", policy.Name,
		"action", string(job.Action),
		"card_id", job.CardID,
		"retry_count", next.RetryCount,
		"delay_ms", delay.Milliseconds(),
		"error", cause,
	)
	return RetryDecision{Scheduled: true, Delay: delay}, nil
}

type noopObserver struct{}

func (noopObserver) ObserveStage(domain.JobAction, string) {}

func observerOrNoop(o ports.StageObserver) ports.StageObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}

func systemClock() time.Time {
	return time.Now().UTC()
}

const (
	outcomeCompleted = "completed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)
