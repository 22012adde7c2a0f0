package usecase

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	rasterThumbnailMaxWidth  = 500
	rasterThumbnailMaxHeight = 500
	rasterSkipBelowBytes     = 500_000
	paletteMaxColors         = 5
)

// ThumbnailSettings is the output quality chosen for a source file size.
type ThumbnailSettings struct {
	Quality int
	Skip    bool
}

var rasterQualityBuckets = []struct {
	below   int64
	quality int
}{
	{below: 1_000_000, quality: 80},
	{below: 2_000_000, quality: 70},
	{below: 5_000_000, quality: 65},
	{below: 10_000_000, quality: 60},
	{below: 20_000_000, quality: 60},
}

// SettingsForSize keeps the historical breakpoints; files under 500KB are not thumbnailed.
func SettingsForSize(size int64) ThumbnailSettings {
	if size < rasterSkipBelowBytes {
		return ThumbnailSettings{Quality: 100, Skip: true}
	}
	for _, bucket := range rasterQualityBuckets {
		if size < bucket.below {
			return ThumbnailSettings{Quality: bucket.quality}
		}
	}
	return ThumbnailSettings{Quality: 50}
}

// FitWithin scales width×height to fit maxW×maxH preserving aspect ratio.
// It never returns a zero dimension for a non-empty input.
func FitWithin(width, height, maxW, maxH int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	aspect := float64(width) / float64(height)

	var w, h int
	if aspect > 1 {
		w = min(width, maxW)
		h = int(math.Round(float64(w) / aspect))
	} else {
		h = min(height, maxH)
		w = int(math.Round(float64(h) * aspect))
	}
	if w > maxW {
		w = maxW
		h = int(math.Round(float64(w) / aspect))
	}
	if h > maxH {
		h = maxH
		w = int(math.Round(float64(h) * aspect))
	}
	return max(w, 1), max(h, 1)
}

// ImageThumbnailer renders WebP thumbnails for raster image cards.
type ImageThumbnailer struct {
	cards     ports.CardRepository
	blobs     ports.BlobStore
	fetcher   ports.BlobFetcher
	processor ports.ImageProcessor
}

func NewImageThumbnailer(
	cards ports.CardRepository,
	blobs ports.BlobStore,
	fetcher ports.BlobFetcher,
	processor ports.ImageProcessor,
) *ImageThumbnailer {
	return &ImageThumbnailer{
		cards:     cards,
		blobs:     blobs,
		fetcher:   fetcher,
		processor: processor,
	}
}

func (t *ImageThumbnailer) Generate(ctx context.Context, cardID string) domain.RenderResult {
	card, err := t.cards.GetByID(ctx, cardID)
	if err != nil {
		return renderLoadFailure(cardID, err)
	}
	if card.Type != domain.CardTypeImage || card.FileID == "" {
		return domain.RenderSkipped()
	}
	if card.ThumbnailID != "" {
		return domain.RenderExisting(card.ThumbnailID)
	}

	sourceURL, err := t.blobs.URL(ctx, card.FileID)
	if err != nil || sourceURL == "" {
		return domain.RenderFailed(domain.RenderErrMissingStorageURL)
	}

	data, _, err := t.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return renderFailure(cardID, "fetch_source", err)
	}

	img, err := t.processor.DecodeOriented(data)
	if err != nil {
		return renderFailure(cardID, "decode_image", err)
	}
	bounds := img.Bounds()
	originalWidth, originalHeight := bounds.Dx(), bounds.Dy()

	colors := t.palette(card, img)

	settings := SettingsForSize(int64(len(data)))
	if settings.Skip {
		patch := domain.CardPatch{
			FileMetadata: withDimensions(card.FileMetadata, originalWidth, originalHeight),
			Colors:       colors,
		}
		if err := t.cards.Patch(ctx, cardID, patch); err != nil {
			return renderFailure(cardID, "store_dimensions", err)
		}
		return domain.RenderSkipped()
	}

	width, height := FitWithin(originalWidth, originalHeight, rasterThumbnailMaxWidth, rasterThumbnailMaxHeight)
	encoded, mimeType, err := t.processor.EncodeThumbnail(img, width, height, settings.Quality)
	if err != nil {
		return renderFailure(cardID, "encode_thumbnail", err)
	}

	thumbnailID, err := t.blobs.Store(ctx, encoded, mimeType)
	if err != nil {
		return renderFailure(cardID, "store_thumbnail", err)
	}

	patch := domain.CardPatch{
		ThumbnailID:  &thumbnailID,
		FileMetadata: withDimensions(card.FileMetadata, originalWidth, originalHeight),
		Colors:       colors,
	}
	if err := t.cards.Patch(ctx, cardID, patch); err != nil {
		return renderFailure(cardID, "patch_card", err)
	}

	slog.Info("thumbnail_generated",
		"card_id", cardID,
		"renderer", "raster",
		"quality", settings.Quality,
		"width", width,
		"height", height,
		"source_bytes", len(data),
		"thumbnail_bytes", len(encoded),
	)
	return domain.RenderGenerated(thumbnailID)
}

// palette leaves existing colors alone; nil means nothing to write.
func (t *ImageThumbnailer) palette(card *domain.Card, img image.Image) []domain.PaletteColor {
	if len(card.Colors) > 0 {
		return nil
	}
	hexes := t.processor.Palette(img, paletteMaxColors)
	if len(hexes) == 0 {
		slog.Debug("palette_empty", "card_id", card.ID)
		return nil
	}
	colors := make([]domain.PaletteColor, 0, len(hexes))
	for _, hex := range hexes {
		colors = append(colors, domain.PaletteColor{Hex: hex})
	}
	return colors
}

func withDimensions(existing *domain.FileMetadata, width, height int) *domain.FileMetadata {
	out := domain.FileMetadata{}
	if existing != nil {
		out = *existing
	}
	out.Width = width
	out.Height = height
	return &out
}

func renderLoadFailure(cardID string, err error) domain.RenderResult {
	if errors.Is(err, domain.ErrCardNotFound) {
		return domain.RenderFailed(domain.RenderErrCardNotFound)
	}
	return renderFailure(cardID, "load_card", err)
}

func renderFailure(cardID, step string, err error) domain.RenderResult {
	slog.Error("thumbnail_failed", "card_id", cardID, "step", step, "error", err)
	return domain.RenderFailed(err.Error())
}
