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
	cleanupRetention = 30 * 24 * time.Hour
	cleanupBatchSize = 10
	// cleanupPartialDelay spaces out batches that had failed deletes.
	cleanupPartialDelay = 5 * time.Minute
)

// CleanupUseCase purges soft-deleted cards past retention, one bounded batch per run.
type CleanupUseCase struct {
	cards     ports.CardRepository
	blobs     ports.BlobStore
	scheduler ports.Scheduler
	now       func() time.Time
}

func NewCleanupUseCase(cards ports.CardRepository, blobs ports.BlobStore, scheduler ports.Scheduler) *CleanupUseCase {
	return &CleanupUseCase{cards: cards, blobs: blobs, scheduler: scheduler, now: systemClock}
}

func (uc *CleanupUseCase) Run(ctx context.Context) (domain.CleanupResult, error) {
	cutoff := uc.now().Add(-cleanupRetention)
	candidates, err := uc.cards.ListDeletedBefore(ctx, cutoff, cleanupBatchSize)
	if err != nil {
		return domain.CleanupResult{}, fmt.Errorf("list deleted cards: %w", err)
	}

	var result domain.CleanupResult
	for i := range candidates {
		if uc.purge(ctx, &candidates[i], cutoff) {
			result.Cleaned++
		}
	}

	// A full batch means there may be more candidates. Failed deletes stay at
	// the head of the listing, so a batch that purged nothing is left to the
	// next periodic run.
	full := len(candidates) == cleanupBatchSize
	result.HasMore = full && result.Cleaned > 0
	if full && result.Cleaned == 0 {
		slog.Warn("cleanup_batch_stalled", "candidates", len(candidates))
	}
	if result.HasMore {
		delay := time.Duration(0)
		if result.Cleaned < len(candidates) {
			delay = cleanupPartialDelay
		}
		if err := uc.scheduler.RunAfter(ctx, delay, domain.Job{Action: domain.JobCleanup}); err != nil {
			return result, fmt.Errorf("reschedule cleanup: %w", err)
		}
	}

	slog.Info("cleanup_completed", "cleaned", result.Cleaned, "candidates", len(candidates), "has_more", result.HasMore)
	return result, nil
}

func (uc *CleanupUseCase) purge(ctx context.Context, card *domain.Card, cutoff time.Time) bool {
	if !eligibleForPurge(card, cutoff) {
		slog.Warn("cleanup_card_not_eligible", "card_id", card.ID)
		return false
	}

	for _, handle := range []string{card.FileID, card.ThumbnailID} {
		if handle == "" {
			continue
		}
		if err := uc.blobs.Delete(ctx, handle); err != nil {
			slog.Warn("cleanup_blob_delete_failed", "card_id", card.ID, "blob", handle, "error", err)
		}
	}

	if err := uc.cards.Delete(ctx, card.ID); err != nil {
		slog.Error("cleanup_card_delete_failed", "card_id", card.ID, "error", err)
		return false
	}
	return true
}

func eligibleForPurge(card *domain.Card, cutoff time.Time) bool {
	return card.IsDeleted && card.DeletedAt != nil && card.DeletedAt.Before(cutoff)
}
