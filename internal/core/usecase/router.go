package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

// JobRouter maps every job action to its stage action or periodic job.
type JobRouter struct {
	pipeline     *PipelineUseCase
	linkMetadata *LinkMetadataUseCase
	aiMetadata   *AIMetadataUseCase
	renderables  *RenderablesUseCase
	linkBackfill *LinkBackfillUseCase
	aiBackfill   *AIBackfillUseCase
	cleanup      *CleanupUseCase
}

func NewJobRouter(
	pipeline *PipelineUseCase,
	linkMetadata *LinkMetadataUseCase,
	aiMetadata *AIMetadataUseCase,
	renderables *RenderablesUseCase,
	linkBackfill *LinkBackfillUseCase,
	aiBackfill *AIBackfillUseCase,
	cleanup *CleanupUseCase,
) *JobRouter {
	return &JobRouter{
		pipeline:     pipeline,
		linkMetadata: linkMetadata,
		aiMetadata:   aiMetadata,
		renderables:  renderables,
		linkBackfill: linkBackfill,
		aiBackfill:   aiBackfill,
		cleanup:      cleanup,
	}
}

func (r *JobRouter) Handle(ctx context.Context, job domain.Job) error {
	if job.Action.PerCard() && job.CardID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "route job", fmt.Errorf("%s needs a card id", job.Action))
	}

	switch job.Action {
	case domain.JobStartPipeline:
		return r.pipeline.Start(ctx, job.CardID)
	case domain.JobLinkMetadata:
		return r.linkMetadata.Run(ctx, job.CardID, job.RetryCount, job.Chain)
	case domain.JobCategorize:
		return r.pipeline.Categorize(ctx, job.CardID, job.Chain)
	case domain.JobAIMetadata:
		return r.aiMetadata.Run(ctx, job.CardID, job.RetryCount)
	case domain.JobRenderables:
		return r.renderables.Run(ctx, job.CardID, job.RetryCount)
	case domain.JobLinkBackfill:
		_, err := r.linkBackfill.Run(ctx, job.Cursor)
		return err
	case domain.JobAIBackfill:
		_, err := r.aiBackfill.Run(ctx)
		return err
	case domain.JobCleanup:
		_, err := r.cleanup.Run(ctx)
		return err
	}
	return domain.WrapError(domain.ErrInvalidInput, "route job", fmt.Errorf("unknown action %q", job.Action))
}
