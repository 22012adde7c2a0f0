package ports

import (
	"context"
	"image"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

// CardRepository is the card store: point read/patch by id plus the indexed scans the jobs need.
type CardRepository interface {
	Create(ctx context.Context, card *domain.Card) error
	GetByID(ctx context.Context, id string) (*domain.Card, error)
	Patch(ctx context.Context, id string, patch domain.CardPatch) error
	Delete(ctx context.Context, id string) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Card, error)
	ListMissingAI(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	ListLinksMissingMetadata(ctx context.Context, afterID string, limit int) ([]string, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Card, error)
}

// BlobStore is a content-addressed binary store.
type BlobStore interface {
	Store(ctx context.Context, data []byte, mimeType string) (string, error)
	// URL returns "" when the handle is unknown.
	URL(ctx context.Context, handle string) (string, error)
	Open(ctx context.Context, handle string) ([]byte, string, error)
	Delete(ctx context.Context, handle string) error
}

// BlobFetcher downloads bytes from a fetchable URL.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Scheduler durably enqueues a job to run after delay.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, job domain.Job) error
}

// JobQueue moves due jobs from the dispatcher to workers.
type JobQueue interface {
	PublishJob(ctx context.Context, job domain.Job) error
	SubscribeJobs(ctx context.Context, handler func(context.Context, domain.Job) error) error
}

// JobStore persists scheduled jobs until they are dispatched.
type JobStore interface {
	Enqueue(ctx context.Context, job domain.Job) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	MarkDispatched(ctx context.Context, id string) error
	Release(ctx context.Context, id string, runAt time.Time, errMessage string) error
	PurgeDispatched(ctx context.Context, before time.Time) (int64, error)
}

// MetadataModel produces structured tags and summary.
type MetadataModel interface {
	DescribeText(ctx context.Context, req domain.TextAnalysisRequest) (domain.AIMetadata, error)
	DescribeImage(ctx context.Context, imageURL string) (domain.AIMetadata, error)
	ModelMeta() domain.AIModelMeta
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip domain.AudioClip) (string, error)
}

// DocumentTextExtractor pulls plain text from document bytes.
type DocumentTextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error)
}

// Unfurler returns link metadata; rejection, timeout and network failures carry distinct error kinds.
type Unfurler interface {
	Unfurl(ctx context.Context, url string) (domain.UnfurlResult, error)
}

// StructuredDataFetcher returns the JSON-LD entities embedded in an html page.
type StructuredDataFetcher interface {
	FetchStructuredData(ctx context.Context, url string) ([]domain.StructuredEntity, error)
}

// BrowserSandbox runs scripts in a headless browser session owned by the caller.
type BrowserSandbox interface {
	CreateSession(ctx context.Context) (string, error)
	Execute(ctx context.Context, sessionID string, req domain.SandboxRequest) (domain.SandboxResponse, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// ImageProcessor decodes source images upright, encodes thumbnails and extracts palettes.
type ImageProcessor interface {
	DecodeOriented(data []byte) (image.Image, error)
	EncodeThumbnail(img image.Image, width, height, quality int) ([]byte, string, error)
	// Palette returns up to maxColors #RRGGBB colors, most frequent first.
	Palette(img image.Image, maxColors int) []string
}

// StageObserver receives stage outcomes for metrics.
type StageObserver interface {
	ObserveStage(action domain.JobAction, outcome string)
}
