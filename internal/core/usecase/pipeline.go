package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// PipelineUseCase seeds processing status and sequences stage jobs per card.
type PipelineUseCase struct {
	cards      ports.CardRepository
	scheduler  ports.Scheduler
	structured ports.StructuredDataFetcher
	now        func() time.Time
}

// NewPipelineUseCase accepts a nil structured fetcher; categorization then relies on the url alone.
func NewPipelineUseCase(cards ports.CardRepository, scheduler ports.Scheduler, structured ports.StructuredDataFetcher) *PipelineUseCase {
	return &PipelineUseCase{cards: cards, scheduler: scheduler, structured: structured, now: systemClock}
}

// Register stores a new card with its initial status and starts enrichment.
func (uc *PipelineUseCase) Register(ctx context.Context, card domain.Card) (*domain.Card, error) {
	if !card.Type.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register card", fmt.Errorf("unknown type %q", card.Type))
	}
	if strings.TrimSpace(card.UserID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register card", errors.New("user_id is required"))
	}
	if card.Type == domain.CardTypeLink && strings.TrimSpace(card.URL) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register card", errors.New("link cards need a url"))
	}

	now := uc.now()
	card.ID = uuid.NewString()
	card.CreatedAt = now
	card.UpdatedAt = now
	card.ThumbnailID = ""
	card.IsDeleted = false
	card.DeletedAt = nil
	card.ProcessingStatus = domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
		Now:      now,
		CardType: card.Type,
	})
	if card.Type == domain.CardTypeLink {
		card.MetadataStatus = domain.MetadataStatusPending
	}

	if err := uc.cards.Create(ctx, &card); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	if err := uc.Start(ctx, card.ID); err != nil {
		// The card is stored; the AI backfill will pick it up later.
		slog.Error("pipeline_start_failed", "card_id", card.ID, "error", err)
	}
	return &card, nil
}

// Start schedules every stage the card still needs. Links unfurl first, then
// categorize, then AI metadata; other types run metadata and renderables side by side.
func (uc *PipelineUseCase) Start(ctx context.Context, cardID string) error {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			slog.Warn("pipeline_card_missing", "card_id", cardID)
			return nil
		}
		return fmt.Errorf("load card: %w", err)
	}
	if card.IsDeleted {
		return nil
	}

	if len(card.ProcessingStatus) == 0 {
		card.ProcessingStatus = domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
			Now:      uc.now(),
			CardType: card.Type,
		})
		if err := uc.cards.Patch(ctx, cardID, domain.CardPatch{ProcessingStatus: card.ProcessingStatus}); err != nil {
			return fmt.Errorf("seed processing status: %w", err)
		}
	}

	var jobs []domain.Job
	switch card.Type {
	case domain.CardTypeLink:
		if card.MetadataStatus != domain.MetadataStatusCompleted && card.MetadataStatus != domain.MetadataStatusFailed {
			jobs = append(jobs, domain.Job{Action: domain.JobLinkMetadata, CardID: cardID, Chain: true})
		} else {
			jobs = append(jobs, domain.Job{Action: domain.JobCategorize, CardID: cardID, Chain: true})
		}
	case domain.CardTypeText, domain.CardTypeImage, domain.CardTypeVideo, domain.CardTypeAudio,
		domain.CardTypeDocument, domain.CardTypePalette, domain.CardTypeQuote:
		if !card.ProcessingStatus.IsCompleted(domain.StageMetadata) {
			jobs = append(jobs, domain.CardJob(domain.JobAIMetadata, cardID, 0))
		}
		if domain.ShouldRunRenderablesStage(card.Type) && !card.ProcessingStatus.IsCompleted(domain.StageRenderables) {
			jobs = append(jobs, domain.CardJob(domain.JobRenderables, cardID, 0))
		}
	}

	for _, job := range jobs {
		if err := uc.scheduler.RunAfter(ctx, 0, job); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Action, err)
		}
	}
	slog.Info("pipeline_started", "card_id", cardID, "card_type", string(card.Type), "jobs", len(jobs))
	return nil
}
