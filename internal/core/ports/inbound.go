package ports

import (
	"context"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

// CardIntake registers new cards and kicks off their enrichment.
type CardIntake interface {
	Register(ctx context.Context, card domain.Card) (*domain.Card, error)
}

type CardReader interface {
	GetByID(ctx context.Context, id string) (*domain.Card, error)
}

// Administration is the operator surface shared by the HTTP admin API and the CLI.
type Administration interface {
	Overview(ctx context.Context) (*domain.Overview, error)
	RetryStage(ctx context.Context, cardID string, stage domain.Stage) domain.ActionResult
	RetryLinkMetadata(ctx context.Context, cardID string) domain.ActionResult
	RefreshCard(ctx context.Context, cardID string) domain.ActionResult
	TriggerAIBackfill(ctx context.Context) (domain.BackfillResult, error)
	TriggerLinkBackfill(ctx context.Context) (domain.LinkBackfillResult, error)
	TriggerCleanup(ctx context.Context) (domain.CleanupResult, error)
}

// JobHandler runs one dispatched job.
type JobHandler interface {
	Handle(ctx context.Context, job domain.Job) error
}
