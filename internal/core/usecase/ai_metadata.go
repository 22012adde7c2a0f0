package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	maxAITags             = 8
	maxDocumentTextRunes  = 8000
	errNoMetadataProduced = "no AI metadata generated"
)

// AIMetadataUseCase is the metadata stage action: tags, summary and transcript.
type AIMetadataUseCase struct {
	cards       ports.CardRepository
	blobs       ports.BlobStore
	fetcher     ports.BlobFetcher
	model       ports.MetadataModel
	transcriber ports.Transcriber
	extractor   ports.DocumentTextExtractor
	retrier     *Retrier
	observer    ports.StageObserver
	now         func() time.Time
}

func NewAIMetadataUseCase(
	cards ports.CardRepository,
	blobs ports.BlobStore,
	fetcher ports.BlobFetcher,
	model ports.MetadataModel,
	transcriber ports.Transcriber,
	extractor ports.DocumentTextExtractor,
	scheduler ports.Scheduler,
	observer ports.StageObserver,
) *AIMetadataUseCase {
	return &AIMetadataUseCase{
		cards:       cards,
		blobs:       blobs,
		fetcher:     fetcher,
		model:       model,
		transcriber: transcriber,
		extractor:   extractor,
		retrier:     NewRetrier(scheduler),
		observer:    observerOrNoop(observer),
		now:         systemClock,
	}
}

type aiOutcome struct {
	meta       domain.AIMetadata
	transcript string
}

func (uc *AIMetadataUseCase) Run(ctx context.Context, cardID string, retryCount int) error {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			slog.Warn("ai_metadata_card_missing", "card_id", cardID)
			uc.observer.ObserveStage(domain.JobAIMetadata, outcomeSkipped)
			return nil
		}
		return fmt.Errorf("load card: %w", err)
	}
	if card.IsDeleted || card.HasAIMetadata() {
		uc.observer.ObserveStage(domain.JobAIMetadata, outcomeSkipped)
		return nil
	}

	previous, _ := card.ProcessingStatus.Get(domain.StageMetadata)
	running := domain.StageInProgress(uc.now(), previous)
	if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageMetadata, running)); err != nil {
		return fmt.Errorf("mark metadata in_progress: %w", err)
	}

	outcome, genErr := uc.generate(ctx, card)
	if genErr == nil && outcome.meta.IsEmpty() && outcome.transcript == "" {
		genErr = errors.New(errNoMetadataProduced)
	}

	if genErr == nil {
		now := uc.now()
		meta := uc.model.ModelMeta()
		meta.GeneratedAt = now
		patch := domain.CardPatch{
			AITags:        normalizeTags(outcome.meta.Tags),
			AISummary:     domain.Ptr(strings.TrimSpace(outcome.meta.Summary)),
			AIGeneratedAt: &now,
			AIModelMeta:   &meta,
			Stages: map[domain.Stage]domain.StageStatus{
				domain.StageMetadata: domain.StageCompletedFrom(now, domain.AIConfidence(card.Type), &running),
			},
		}
		if outcome.transcript != "" {
			patch.AITranscript = domain.Ptr(outcome.transcript)
		}
		if err := uc.cards.Patch(ctx, cardID, patch); err != nil {
			return fmt.Errorf("save ai metadata: %w", err)
		}
		slog.Info("ai_metadata_generated",
			"card_id", cardID,
			"card_type", string(card.Type),
			"tags", len(patch.AITags),
			"has_transcript", outcome.transcript != "",
			"retry_count", retryCount,
		)
		uc.observer.ObserveStage(domain.JobAIMetadata, outcomeCompleted)
		return nil
	}

	failed := domain.StageFailed(uc.now(), genErr.Error(), &running)
	if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageMetadata, failed)); err != nil {
		return fmt.Errorf("mark metadata failed: %w", err)
	}

	if errors.Is(genErr, domain.ErrNoContent) {
		slog.Warn("ai_metadata_skipped", "card_id", cardID, "card_type", string(card.Type), "error", genErr)
		uc.observer.ObserveStage(domain.JobAIMetadata, outcomeFailed)
		return nil
	}

	job := domain.CardJob(domain.JobAIMetadata, cardID, retryCount)
	decision, err := uc.retrier.Decide(ctx, domain.AIMetadataRetryPolicy, job, genErr)
	if err != nil {
		slog.Error("ai_metadata_retry_schedule_failed", "card_id", cardID, "error", err)
	}
	if decision.Scheduled {
		uc.observer.ObserveStage(domain.JobAIMetadata, outcomeRetry)
		return nil
	}
	slog.Error("ai_metadata_failed", "card_id", cardID, "retry_count", retryCount, "error", genErr)
	uc.observer.ObserveStage(domain.JobAIMetadata, outcomeFailed)
	return nil
}

func (uc *AIMetadataUseCase) generate(ctx context.Context, card *domain.Card) (aiOutcome, error) {
	switch card.Type {
	case domain.CardTypeText, domain.CardTypeQuote:
		return uc.describeText(ctx, domain.AnalysisText, card.Content, "")
	case domain.CardTypePalette:
		return uc.describeText(ctx, domain.AnalysisText, paletteContent(card), "")
	case domain.CardTypeDocument:
		return uc.describeText(ctx, domain.AnalysisText, uc.documentContent(ctx, card), "")
	case domain.CardTypeLink:
		return uc.describeText(ctx, domain.AnalysisLink, linkContent(card), domain.NormalizeURL(card.URL))
	case domain.CardTypeImage:
		return uc.describeImage(ctx, card.FileID)
	case domain.CardTypeVideo:
		if card.ThumbnailID != "" {
			return uc.describeImage(ctx, card.ThumbnailID)
		}
		return uc.describeText(ctx, domain.AnalysisText, joinNonEmpty("\n\n", card.FileName(), card.Content), "")
	case domain.CardTypeAudio:
		return uc.describeAudio(ctx, card)
	}
	return aiOutcome{}, fmt.Errorf("%w: %s", domain.ErrUnsupported, card.Type)
}

func (uc *AIMetadataUseCase) describeText(ctx context.Context, kind domain.AnalysisKind, content, url string) (aiOutcome, error) {
	if strings.TrimSpace(content) == "" && url == "" {
		return aiOutcome{}, domain.ErrNoContent
	}
	meta, err := uc.model.DescribeText(ctx, domain.TextAnalysisRequest{Kind: kind, Content: content, URL: url})
	if err != nil {
		return aiOutcome{}, fmt.Errorf("describe text: %w", err)
	}
	return aiOutcome{meta: meta}, nil
}

func (uc *AIMetadataUseCase) describeImage(ctx context.Context, handle string) (aiOutcome, error) {
	if handle == "" {
		return aiOutcome{}, domain.ErrNoContent
	}
	imageURL, err := uc.blobs.URL(ctx, handle)
	if err != nil {
		return aiOutcome{}, fmt.Errorf("resolve image url: %w", err)
	}
	if imageURL == "" {
		return aiOutcome{}, fmt.Errorf("%w: blob %s has no url", domain.ErrNoContent, handle)
	}
	meta, err := uc.model.DescribeImage(ctx, imageURL)
	if err != nil {
		return aiOutcome{}, fmt.Errorf("describe image: %w", err)
	}
	return aiOutcome{meta: meta}, nil
}

// describeAudio transcribes first; a failed transcription degrades to no transcript.
func (uc *AIMetadataUseCase) describeAudio(ctx context.Context, card *domain.Card) (aiOutcome, error) {
	transcript := uc.transcribe(ctx, card)

	text := transcript
	if text == "" {
		text = card.Content
	}
	if strings.TrimSpace(text) == "" {
		return aiOutcome{}, domain.ErrNoContent
	}

	meta, err := uc.model.DescribeText(ctx, domain.TextAnalysisRequest{Kind: domain.AnalysisText, Content: text})
	if err != nil {
		return aiOutcome{}, fmt.Errorf("describe transcript: %w", err)
	}
	return aiOutcome{meta: meta, transcript: transcript}, nil
}

func (uc *AIMetadataUseCase) transcribe(ctx context.Context, card *domain.Card) string {
	if card.FileID == "" || uc.transcriber == nil {
		return ""
	}
	audioURL, err := uc.blobs.URL(ctx, card.FileID)
	if err != nil || audioURL == "" {
		slog.Warn("transcription_skipped", "card_id", card.ID, "reason", "missing_storage_url", "error", err)
		return ""
	}
	data, fetchedMime, err := uc.fetcher.Fetch(ctx, audioURL)
	if err != nil {
		slog.Warn("transcription_skipped", "card_id", card.ID, "reason", "fetch_failed", "error", err)
		return ""
	}

	mimeType := card.MimeType()
	if mimeType == "" {
		mimeType = fetchedMime
	}
	clip := domain.AudioClip{
		Data:     data,
		MimeType: mimeType,
		FileName: "audio." + domain.AudioExtension(mimeType),
	}
	text, err := uc.transcriber.Transcribe(ctx, clip)
	if err != nil {
		slog.Warn("transcription_failed", "card_id", card.ID, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (uc *AIMetadataUseCase) documentContent(ctx context.Context, card *domain.Card) string {
	parts := []string{}
	if name := card.FileName(); name != "" {
		parts = append(parts, "Document: "+name)
	}
	parts = append(parts, card.Content)

	if card.FileID != "" && uc.extractor != nil {
		if text := uc.extractDocumentText(ctx, card); text != "" {
			parts = append(parts, text)
		}
	}
	return joinNonEmpty("\n\n", parts...)
}

func (uc *AIMetadataUseCase) extractDocumentText(ctx context.Context, card *domain.Card) string {
	docURL, err := uc.blobs.URL(ctx, card.FileID)
	if err != nil || docURL == "" {
		return ""
	}
	data, fetchedMime, err := uc.fetcher.Fetch(ctx, docURL)
	if err != nil {
		slog.Warn("document_text_skipped", "card_id", card.ID, "reason", "fetch_failed", "error", err)
		return ""
	}
	mimeType := card.MimeType()
	if mimeType == "" {
		mimeType = fetchedMime
	}
	text, err := uc.extractor.Extract(ctx, data, mimeType, card.FileName())
	if err != nil {
		slog.Warn("document_text_skipped", "card_id", card.ID, "reason", "extract_failed", "error", err)
		return ""
	}
	return truncateRunes(strings.TrimSpace(text), maxDocumentTextRunes)
}

func linkContent(card *domain.Card) string {
	lines := []string{}
	if md := card.Metadata; md != nil {
		title := md.LinkTitle
		if title == "" {
			title = card.MetadataTitle
		}
		description := md.LinkDescription
		if description == "" {
			description = card.MetadataDescription
		}
		appendLabeled(&lines, "Title", title)
		appendLabeled(&lines, "Description", description)
		appendLabeled(&lines, "Author", md.LinkAuthor)
		appendLabeled(&lines, "Publisher", md.LinkPublisher)
		appendLabeled(&lines, "Published", md.LinkPublishedAt)
	} else {
		appendLabeled(&lines, "Title", card.MetadataTitle)
		appendLabeled(&lines, "Description", card.MetadataDescription)
	}
	if len(lines) == 0 {
		return joinNonEmpty("\n", "URL: "+card.URL, card.Content)
	}
	if strings.TrimSpace(card.Content) != "" {
		lines = append(lines, "", card.Content)
	}
	return strings.Join(lines, "\n")
}

func paletteContent(card *domain.Card) string {
	colors := make([]string, 0, len(card.Colors))
	for _, c := range card.Colors {
		if c.Name != "" {
			colors = append(colors, fmt.Sprintf("%s (%s)", c.Hex, c.Name))
			continue
		}
		colors = append(colors, c.Hex)
	}
	if len(colors) == 0 {
		return card.Content
	}
	return joinNonEmpty("\n\n", "Colors: "+strings.Join(colors, ", "), card.Content)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == maxAITags {
			break
		}
	}
	return out
}

func appendLabeled(lines *[]string, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	*lines = append(*lines, label+": "+strings.TrimSpace(value))
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, sep)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
