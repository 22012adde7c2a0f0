package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"github.com/robfig/cron/v3"
)

// PeriodicSpecs holds cron expressions; an empty expression disables the job.
type PeriodicSpecs struct {
	Cleanup      string
	AIBackfill   string
	LinkBackfill string
}

func (s PeriodicSpecs) entries() []periodicEntry {
	return []periodicEntry{
		{spec: s.Cleanup, action: domain.JobCleanup},
		{spec: s.AIBackfill, action: domain.JobAIBackfill},
		{spec: s.LinkBackfill, action: domain.JobLinkBackfill},
	}
}

type periodicEntry struct {
	spec   string
	action domain.JobAction
}

// NewCron builds a UTC cron whose ticks only enqueue jobs.
func NewCron(ctx context.Context, sched ports.Scheduler, specs PeriodicSpecs) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, entry := range specs.entries() {
		spec := strings.TrimSpace(entry.spec)
		if spec == "" {
			slog.Info("periodic_job_disabled", "action", string(entry.action))
			continue
		}
		action := entry.action
		if _, err := c.AddFunc(spec, func() {
			enqueuePeriodic(ctx, sched, action)
		}); err != nil {
			return nil, fmt.Errorf("register %s cron %q: %w", action, spec, err)
		}
		slog.Info("periodic_job_registered", "action", string(action), "spec", spec)
	}
	return c, nil
}

func enqueuePeriodic(ctx context.Context, sched ports.Scheduler, action domain.JobAction) {
	if err := sched.RunAfter(ctx, 0, domain.Job{Action: action}); err != nil {
		slog.Error("periodic_job_enqueue_failed", "action", string(action), "error", err)
	}
}
