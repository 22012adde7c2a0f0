package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	aiBackfillBatchSize   = 50
	aiBackfillGracePeriod = 5 * time.Minute

	defaultLinkBackfillPageSize = 25
	linkBackfillStagger         = 2 * time.Second
)

// AIBackfillUseCase re-enqueues AI generation for cards that never got it.
type AIBackfillUseCase struct {
	cards     ports.CardRepository
	scheduler ports.Scheduler
	now       func() time.Time
}

func NewAIBackfillUseCase(cards ports.CardRepository, scheduler ports.Scheduler) *AIBackfillUseCase {
	return &AIBackfillUseCase{cards: cards, scheduler: scheduler, now: systemClock}
}

// Run skips cards younger than the grace window so fresh creations are not raced.
func (uc *AIBackfillUseCase) Run(ctx context.Context) (domain.BackfillResult, error) {
	ids, err := uc.cards.ListMissingAI(ctx, uc.now().Add(-aiBackfillGracePeriod), aiBackfillBatchSize)
	if err != nil {
		return domain.BackfillResult{}, fmt.Errorf("list cards missing ai metadata: %w", err)
	}

	result := domain.BackfillResult{FailedCardIDs: []string{}}
	for _, id := range ids {
		if err := uc.scheduler.RunAfter(ctx, 0, domain.CardJob(domain.JobAIMetadata, id, 0)); err != nil {
			slog.Error("ai_backfill_enqueue_failed", "card_id", id, "error", err)
			result.FailedCardIDs = append(result.FailedCardIDs, id)
			continue
		}
		result.EnqueuedCount++
	}

	slog.Info("ai_backfill_completed",
		"candidates", len(ids),
		"enqueued", result.EnqueuedCount,
		"failed", len(result.FailedCardIDs),
	)
	return result, nil
}

// LinkBackfillUseCase pages through link cards without a raw unfurl payload.
type LinkBackfillUseCase struct {
	cards     ports.CardRepository
	scheduler ports.Scheduler
	pageSize  int
}

func NewLinkBackfillUseCase(cards ports.CardRepository, scheduler ports.Scheduler, pageSize int) *LinkBackfillUseCase {
	if pageSize <= 0 {
		pageSize = defaultLinkBackfillPageSize
	}
	return &LinkBackfillUseCase{cards: cards, scheduler: scheduler, pageSize: pageSize}
}

// Run enqueues one page with a 2s × index stagger and schedules the next page
// after the stagger window when the page was full.
func (uc *LinkBackfillUseCase) Run(ctx context.Context, cursor string) (domain.LinkBackfillResult, error) {
	ids, err := uc.cards.ListLinksMissingMetadata(ctx, cursor, uc.pageSize)
	if err != nil {
		return domain.LinkBackfillResult{}, fmt.Errorf("list links missing metadata: %w", err)
	}

	var result domain.LinkBackfillResult
	for i, id := range ids {
		delay := time.Duration(i) * linkBackfillStagger
		if err := uc.scheduler.RunAfter(ctx, delay, domain.CardJob(domain.JobLinkMetadata, id, 0)); err != nil {
			slog.Error("link_backfill_enqueue_failed", "card_id", id, "error", err)
			continue
		}
		result.EnqueuedCount++
	}

	if len(ids) == uc.pageSize {
		result.HasMore = true
		result.NextCursor = ids[len(ids)-1]
		next := domain.Job{Action: domain.JobLinkBackfill, Cursor: result.NextCursor}
		if err := uc.scheduler.RunAfter(ctx, time.Duration(len(ids))*linkBackfillStagger, next); err != nil {
			return result, fmt.Errorf("schedule next link backfill page: %w", err)
		}
	}

	slog.Info("link_backfill_page",
		"cursor", cursor,
		"enqueued", result.EnqueuedCount,
		"has_more", result.HasMore,
	)
	return result, nil
}
