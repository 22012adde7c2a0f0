package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// Durable persists every job before returning; the dispatcher moves it to
// the queue once it is due.
type Durable struct {
	store ports.JobStore
	now   func() time.Time
}

func NewDurable(store ports.JobStore) *Durable {
	return &Durable{store: store, now: time.Now}
}

func (s *Durable) RunAfter(ctx context.Context, delay time.Duration, job domain.Job) error {
	if !job.Action.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "schedule job", fmt.Errorf("unknown action %q", job.Action))
	}
	if job.Action.PerCard() && job.CardID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "schedule job", fmt.Errorf("%s requires a card id", job.Action))
	}
	if delay < 0 {
		delay = 0
	}
	now := s.now().UTC()
	job.EnqueuedAt = now
	job.RunAt = now.Add(delay)
	if err := s.store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Action, err)
	}
	return nil
}
