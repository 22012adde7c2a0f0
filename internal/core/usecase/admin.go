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

const (
	overviewScanLimit       = 2000
	overviewIncompleteLimit = 100
)

// AdminUseCase backs the operator surfaces: overview, manual retries, refresh and triggers.
type AdminUseCase struct {
	cards        ports.CardRepository
	blobs        ports.BlobStore
	pipeline     *PipelineUseCase
	aiMetadata   *AIMetadataUseCase
	renderables  *RenderablesUseCase
	linkMetadata *LinkMetadataUseCase
	aiBackfill   *AIBackfillUseCase
	linkBackfill *LinkBackfillUseCase
	cleanup      *CleanupUseCase
	now          func() time.Time
}

func NewAdminUseCase(
	cards ports.CardRepository,
	blobs ports.BlobStore,
	pipeline *PipelineUseCase,
	aiMetadata *AIMetadataUseCase,
	renderables *RenderablesUseCase,
	linkMetadata *LinkMetadataUseCase,
	aiBackfill *AIBackfillUseCase,
	linkBackfill *LinkBackfillUseCase,
	cleanup *CleanupUseCase,
) *AdminUseCase {
	return &AdminUseCase{
		cards:        cards,
		blobs:        blobs,
		pipeline:     pipeline,
		aiMetadata:   aiMetadata,
		renderables:  renderables,
		linkMetadata: linkMetadata,
		aiBackfill:   aiBackfill,
		linkBackfill: linkBackfill,
		cleanup:      cleanup,
		now:          systemClock,
	}
}

// RetryStage re-runs one stage for one card synchronously and reports the outcome.
func (uc *AdminUseCase) RetryStage(ctx context.Context, cardID string, stage domain.Stage) domain.ActionResult {
	card, res, ok := uc.loadForAction(ctx, cardID)
	if !ok {
		return res
	}

	var err error
	switch stage {
	case domain.StageClassify:
		return domain.ActionResult{Success: false, Message: "classification runs upstream; nothing to retry here"}
	case domain.StageCategorize:
		if err = uc.resetStage(ctx, cardID, stage); err == nil {
			err = uc.pipeline.Categorize(ctx, cardID, false)
		}
	case domain.StageMetadata:
		patch := domain.StagePatch(stage, domain.StagePending())
		patch.ClearAI = true
		if err = uc.cards.Patch(ctx, cardID, patch); err == nil {
			err = uc.aiMetadata.Run(ctx, cardID, 0)
		}
	case domain.StageRenderables:
		if !domain.ShouldRunRenderablesStage(card.Type) {
			return domain.ActionResult{Success: false, Message: fmt.Sprintf("%s cards have no renderables", card.Type)}
		}
		if err = uc.resetStage(ctx, cardID, stage); err == nil {
			err = uc.renderables.Run(ctx, cardID, 0)
		}
	default:
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("unknown stage %q", stage)}
	}
	if err != nil {
		slog.Error("manual_retry_failed", "card_id", cardID, "stage", string(stage), "error", err)
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("%s retry failed: %v", stage, err)}
	}

	return uc.stageOutcome(ctx, cardID, stage)
}

func (uc *AdminUseCase) RetryLinkMetadata(ctx context.Context, cardID string) domain.ActionResult {
	card, res, ok := uc.loadForAction(ctx, cardID)
	if !ok {
		return res
	}
	if card.Type != domain.CardTypeLink {
		return domain.ActionResult{Success: false, Message: "link metadata only applies to link cards"}
	}
	if err := uc.linkMetadata.Run(ctx, cardID, 0, false); err != nil {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("link metadata failed: %v", err)}
	}
	updated, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("reload card: %v", err)}
	}
	switch updated.MetadataStatus {
	case domain.MetadataStatusCompleted:
		return domain.ActionResult{Success: true, Message: "link metadata fetched"}
	case domain.MetadataStatusFailed:
		return domain.ActionResult{Success: false, Message: "link metadata failed"}
	default:
		return domain.ActionResult{Success: true, Message: "link metadata retry scheduled"}
	}
}

// RefreshCard clears derived fields and restarts the pipeline from the initial status.
func (uc *AdminUseCase) RefreshCard(ctx context.Context, cardID string) domain.ActionResult {
	card, res, ok := uc.loadForAction(ctx, cardID)
	if !ok {
		return res
	}

	if card.ThumbnailID != "" {
		if err := uc.blobs.Delete(ctx, card.ThumbnailID); err != nil {
			slog.Warn("refresh_thumbnail_delete_failed", "card_id", cardID, "blob", card.ThumbnailID, "error", err)
		}
	}

	opts := domain.InitialStatusOptions{Now: uc.now(), CardType: card.Type}
	if classify, ok := card.ProcessingStatus.Get(domain.StageClassify); ok {
		opts.ClassificationStatus = classify
	}
	patch := domain.CardPatch{
		ThumbnailID:      domain.Ptr(""),
		ClearAI:          true,
		ProcessingStatus: domain.BuildInitialProcessingStatus(opts),
	}
	if card.Type == domain.CardTypeLink {
		patch.MetadataStatus = domain.Ptr(domain.MetadataStatusPending)
	}
	if err := uc.cards.Patch(ctx, cardID, patch); err != nil {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("reset processing state: %v", err)}
	}
	if err := uc.pipeline.Start(ctx, cardID); err != nil {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("restart pipeline: %v", err)}
	}
	return domain.ActionResult{Success: true, Message: "processing restarted"}
}

func (uc *AdminUseCase) TriggerAIBackfill(ctx context.Context) (domain.BackfillResult, error) {
	return uc.aiBackfill.Run(ctx)
}

func (uc *AdminUseCase) TriggerLinkBackfill(ctx context.Context) (domain.LinkBackfillResult, error) {
	return uc.linkBackfill.Run(ctx, "")
}

func (uc *AdminUseCase) TriggerCleanup(ctx context.Context) (domain.CleanupResult, error) {
	return uc.cleanup.Run(ctx)
}

// Overview summarizes the most recent cards' processing state.
func (uc *AdminUseCase) Overview(ctx context.Context) (*domain.Overview, error) {
	cards, err := uc.cards.ListRecent(ctx, overviewScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	out := &domain.Overview{
		TotalCards:      len(cards),
		Stages:          make(map[domain.Stage]domain.StageCounts, len(domain.Stages)),
		MetadataStatus:  map[domain.MetadataStatus]int{},
		IncompleteCards: []domain.IncompleteCard{},
	}

	for i := range cards {
		card := &cards[i]
		for stage, status := range card.ProcessingStatus {
			counts := out.Stages[stage]
			switch status.Status {
			case domain.StagePendingState:
				counts.Pending++
			case domain.StageInProgressState:
				counts.InProgress++
			case domain.StageFailedState:
				counts.Failed++
			case domain.StageCompletedState:
				counts.Completed++
			}
			out.Stages[stage] = counts
		}
		if !card.HasAIMetadata() {
			out.MissingAI++
		}
		if domain.ShouldRunRenderablesStage(card.Type) && card.ThumbnailID == "" {
			out.MissingThumbnail++
		}
		if card.Type == domain.CardTypeLink {
			status := card.MetadataStatus
			if status == "" {
				status = domain.MetadataStatusPending
			}
			out.MetadataStatus[status]++
		}

		reasons, failures := incompleteReasons(card)
		if len(reasons) == 0 {
			continue
		}
		if len(out.IncompleteCards) >= overviewIncompleteLimit {
			out.IncompleteTruncated = true
			continue
		}
		out.IncompleteCards = append(out.IncompleteCards, domain.IncompleteCard{
			CardID:   card.ID,
			Type:     card.Type,
			Reasons:  reasons,
			Failures: failures,
		})
	}
	return out, nil
}

func incompleteReasons(card *domain.Card) ([]string, map[domain.Stage]string) {
	var reasons []string
	var failures map[domain.Stage]string

	for _, stage := range domain.Stages {
		status, ok := card.ProcessingStatus[stage]
		if !ok || status.IsCompleted() {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s_%s", stage, status.Status))
		if status.Status == domain.StageFailedState && status.Error != "" {
			if failures == nil {
				failures = map[domain.Stage]string{}
			}
			failures[stage] = status.Error
		}
	}
	if !card.HasAIMetadata() {
		reasons = append(reasons, "missing_ai_metadata")
	}
	if card.Type == domain.CardTypeLink && card.MetadataStatus == domain.MetadataStatusFailed {
		reasons = append(reasons, "link_metadata_failed")
	}
	return reasons, failures
}

func (uc *AdminUseCase) resetStage(ctx context.Context, cardID string, stage domain.Stage) error {
	return uc.cards.Patch(ctx, cardID, domain.StagePatch(stage, domain.StagePending()))
}

func (uc *AdminUseCase) loadForAction(ctx context.Context, cardID string) (*domain.Card, domain.ActionResult, bool) {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			return nil, domain.ActionResult{Success: false, Message: "card not found", Reason: "not_found"}, false
		}
		return nil, domain.ActionResult{Success: false, Message: fmt.Sprintf("load card: %v", err)}, false
	}
	return card, domain.ActionResult{}, true
}

func (uc *AdminUseCase) stageOutcome(ctx context.Context, cardID string, stage domain.Stage) domain.ActionResult {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("reload card: %v", err)}
	}
	status, ok := card.ProcessingStatus[stage]
	if !ok {
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("%s has no status", stage)}
	}
	switch status.Status {
	case domain.StageCompletedState:
		return domain.ActionResult{Success: true, Message: fmt.Sprintf("%s completed", stage)}
	case domain.StageFailedState:
		return domain.ActionResult{Success: false, Message: fmt.Sprintf("%s failed: %s", stage, status.Error)}
	default:
		return domain.ActionResult{Success: true, Message: fmt.Sprintf("%s is %s", stage, status.Status)}
	}
}
