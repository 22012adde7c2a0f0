package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// LinkMetadataUseCase unfurls link cards. Rejections are terminal; timeouts
// and network failures retry under their own policies.
type LinkMetadataUseCase struct {
	cards     ports.CardRepository
	unfurler  ports.Unfurler
	scheduler ports.Scheduler
	retrier   *Retrier
	observer  ports.StageObserver
	now       func() time.Time
}

func NewLinkMetadataUseCase(
	cards ports.CardRepository,
	unfurler ports.Unfurler,
	scheduler ports.Scheduler,
	observer ports.StageObserver,
) *LinkMetadataUseCase {
	return &LinkMetadataUseCase{
		cards:     cards,
		unfurler:  unfurler,
		scheduler: scheduler,
		retrier:   NewRetrier(scheduler),
		observer:  observerOrNoop(observer),
		now:       systemClock,
	}
}

func (uc *LinkMetadataUseCase) Run(ctx context.Context, cardID string, retryCount int, chain bool) error {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			slog.Warn("link_metadata_card_missing", "card_id", cardID)
			uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeSkipped)
			return nil
		}
		return fmt.Errorf("load card: %w", err)
	}
	if card.Type != domain.CardTypeLink {
		slog.Warn("link_metadata_type_mismatch", "card_id", cardID, "card_type", string(card.Type))
		uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeSkipped)
		return nil
	}
	if card.MetadataStatus == domain.MetadataStatusCompleted && card.Metadata != nil && len(card.Metadata.Raw) > 0 {
		uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeSkipped)
		return uc.continuePipeline(ctx, cardID, chain)
	}
	if card.URL == "" {
		if err := uc.markFailed(ctx, card, "missing_url"); err != nil {
			return err
		}
		return uc.continuePipeline(ctx, cardID, chain)
	}

	result, unfurlErr := uc.unfurler.Unfurl(ctx, domain.NormalizeURL(card.URL))
	if unfurlErr == nil {
		if err := uc.saveResult(ctx, card, result); err != nil {
			return err
		}
		uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeCompleted)
		return uc.continuePipeline(ctx, cardID, chain)
	}

	if policy, transient := linkRetryPolicy(unfurlErr); transient {
		job := domain.Job{Action: domain.JobLinkMetadata, CardID: cardID, RetryCount: retryCount, Chain: chain}
		decision, err := uc.retrier.Decide(ctx, policy, job, unfurlErr)
		if err != nil {
			slog.Error("link_metadata_retry_schedule_failed", "card_id", cardID, "error", err)
		}
		if decision.Scheduled {
			uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeRetry)
			return nil
		}
	}

	if err := uc.markFailed(ctx, card, linkErrorStatus(unfurlErr)); err != nil {
		return err
	}
	return uc.continuePipeline(ctx, cardID, chain)
}

func (uc *LinkMetadataUseCase) saveResult(ctx context.Context, card *domain.Card, result domain.UnfurlResult) error {
	metadata := result.LinkMetadata()
	if card.Metadata != nil {
		metadata.LinkCategory = card.Metadata.LinkCategory
	}
	status := domain.MetadataStatusCompleted
	patch := domain.CardPatch{
		Metadata:       &metadata,
		MetadataStatus: &status,
	}
	if result.Title != "" {
		patch.MetadataTitle = domain.Ptr(result.Title)
	}
	if result.Description != "" {
		patch.MetadataDescription = domain.Ptr(result.Description)
	}
	if err := uc.cards.Patch(ctx, card.ID, patch); err != nil {
		return fmt.Errorf("save link metadata: %w", err)
	}
	slog.Info("link_metadata_saved", "card_id", card.ID, "has_title", result.Title != "", "has_image", result.ImageURL != "")
	return nil
}

// markFailed converges every terminal path to the same update: the title falls back to the card's url.
func (uc *LinkMetadataUseCase) markFailed(ctx context.Context, card *domain.Card, reason string) error {
	status := domain.MetadataStatusFailed
	patch := domain.CardPatch{
		MetadataStatus: &status,
		MetadataTitle:  domain.Ptr(card.URL),
	}
	if card.Metadata == nil {
		patch.Metadata = &domain.LinkMetadata{LinkTitle: card.URL}
	}
	if err := uc.cards.Patch(ctx, card.ID, patch); err != nil {
		return fmt.Errorf("mark link metadata failed: %w", err)
	}
	slog.Warn("link_metadata_failed", "card_id", card.ID, "error_status", reason)
	uc.observer.ObserveStage(domain.JobLinkMetadata, outcomeFailed)
	return nil
}

func (uc *LinkMetadataUseCase) continuePipeline(ctx context.Context, cardID string, chain bool) error {
	if !chain {
		return nil
	}
	next := domain.Job{Action: domain.JobCategorize, CardID: cardID, Chain: true}
	if err := uc.scheduler.RunAfter(ctx, 0, next); err != nil {
		return fmt.Errorf("schedule categorize: %w", err)
	}
	return nil
}

func linkRetryPolicy(err error) (domain.RetryPolicy, bool) {
	switch {
	case domain.IsKind(err, domain.ErrRejected):
		return domain.RetryPolicy{}, false
	case domain.IsKind(err, domain.ErrTimeout):
		return domain.LinkTimeoutRetryPolicy, true
	case domain.IsKind(err, domain.ErrNetwork):
		return domain.LinkNetworkRetryPolicy, true
	default:
		return domain.RetryPolicy{}, false
	}
}

func linkErrorStatus(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrRejected):
		return "rejected"
	case domain.IsKind(err, domain.ErrTimeout):
		return "timeout"
	case domain.IsKind(err, domain.ErrNetwork):
		return "network_error"
	default:
		return "unknown_error"
	}
}
