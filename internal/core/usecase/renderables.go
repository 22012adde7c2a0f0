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

const renderablesConfidence = 0.95

// Renderer produces a preview for a single card. It never returns an error;
// failures are part of the result.
type Renderer interface {
	Generate(ctx context.Context, cardID string) domain.RenderResult
}

// RenderablesUseCase is the renderables stage action.
type RenderablesUseCase struct {
	cards    ports.CardRepository
	raster   Renderer
	video    Renderer
	svg      Renderer
	pdf      Renderer
	retrier  *Retrier
	observer ports.StageObserver
	now      func() time.Time
}

func NewRenderablesUseCase(
	cards ports.CardRepository,
	raster Renderer,
	video Renderer,
	svg Renderer,
	pdf Renderer,
	scheduler ports.Scheduler,
	observer ports.StageObserver,
) *RenderablesUseCase {
	return &RenderablesUseCase{
		cards:    cards,
		raster:   raster,
		video:    video,
		svg:      svg,
		pdf:      pdf,
		retrier:  NewRetrier(scheduler),
		observer: observerOrNoop(observer),
		now:      systemClock,
	}
}

// Run executes the stage for one card. Only infrastructure errors while
// recording status are returned.
func (uc *RenderablesUseCase) Run(ctx context.Context, cardID string, retryCount int) error {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			slog.Warn("renderables_card_missing", "card_id", cardID)
			uc.observer.ObserveStage(domain.JobRenderables, outcomeSkipped)
			return nil
		}
		return fmt.Errorf("load card: %w", err)
	}
	if card.ProcessingStatus.IsCompleted(domain.StageRenderables) {
		uc.observer.ObserveStage(domain.JobRenderables, outcomeSkipped)
		return nil
	}

	previous, _ := card.ProcessingStatus.Get(domain.StageRenderables)
	running := domain.StageInProgress(uc.now(), previous)
	if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageRenderables, running)); err != nil {
		return fmt.Errorf("mark renderables in_progress: %w", err)
	}

	result := uc.render(ctx, card)
	if result.Success {
		done := domain.StageCompletedFrom(uc.now(), renderablesConfidence, &running)
		if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageRenderables, done)); err != nil {
			return fmt.Errorf("mark renderables completed: %w", err)
		}
		uc.observer.ObserveStage(domain.JobRenderables, outcomeCompleted)
		return nil
	}

	failed := domain.StageFailed(uc.now(), result.Error, &running)
	if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageRenderables, failed)); err != nil {
		return fmt.Errorf("mark renderables failed: %w", err)
	}
	if isPermanentRenderError(result.Error) {
		uc.observer.ObserveStage(domain.JobRenderables, outcomeFailed)
		return nil
	}

	job := domain.CardJob(domain.JobRenderables, cardID, retryCount)
	decision, err := uc.retrier.Decide(ctx, domain.RenderablesRetryPolicy, job, errors.New(result.Error))
	if err != nil {
		slog.Error("renderables_retry_schedule_failed", "card_id", cardID, "error", err)
	}
	if decision.Scheduled {
		uc.observer.ObserveStage(domain.JobRenderables, outcomeRetry)
	} else {
		uc.observer.ObserveStage(domain.JobRenderables, outcomeFailed)
	}
	return nil
}

func (uc *RenderablesUseCase) render(ctx context.Context, card *domain.Card) domain.RenderResult {
	switch card.Type {
	case domain.CardTypeImage:
		if IsSVGCard(card) {
			return uc.svg.Generate(ctx, card.ID)
		}
		return uc.raster.Generate(ctx, card.ID)
	case domain.CardTypeVideo:
		return uc.video.Generate(ctx, card.ID)
	case domain.CardTypeDocument:
		if IsPDFCard(card) {
			return uc.pdf.Generate(ctx, card.ID)
		}
		return domain.RenderSkipped()
	case domain.CardTypeText, domain.CardTypeLink, domain.CardTypeAudio, domain.CardTypePalette, domain.CardTypeQuote:
		return domain.RenderSkipped()
	}
	return domain.RenderSkipped()
}

func isPermanentRenderError(code string) bool {
	switch code {
	case domain.RenderErrCardNotFound, domain.RenderErrMissingStorageURL, domain.RenderErrInvalidSVG:
		return true
	default:
		return false
	}
}
