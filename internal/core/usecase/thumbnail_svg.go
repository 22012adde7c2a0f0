package usecase

import (
	"context"
	"encoding/base64"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	svgThumbnailMax          = 500
	svgScriptTimeoutSec      = 30
	svgSandboxTimeoutSec     = 60
	svgFallbackNaturalWidth  = 800
	svgFallbackNaturalHeight = 600
)

var (
	svgRootTag     = regexp.MustCompile(`(?i)<svg\b[^>]*>`)
	svgWidthAttr   = regexp.MustCompile(`(?i)(?:^|\s)width\s*=\s*["']([^"']+)["']`)
	svgHeightAttr  = regexp.MustCompile(`(?i)(?:^|\s)height\s*=\s*["']([^"']+)["']`)
	svgViewBoxAttr = regexp.MustCompile(`(?i)(?:^|\s)viewBox\s*=\s*["']([^"']+)["']`)
	svgLeadingNum  = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)`)
)

const svgRasterScript = `() => new Promise((resolve) => {
  const svgDataUrl = {{svgDataUrl}};
  const maxSize = {{maxSize}};
  const timeoutMs = {{timeoutMs}};
  const fallbackWidth = {{fallbackWidth}};
  const fallbackHeight = {{fallbackHeight}};
` + fitWithinJS + `
  let settled = false;
  const finish = (payload) => {
    if (settled) return;
    settled = true;
    clearTimeout(timer);
    resolve(JSON.stringify(payload));
  };
  const timer = setTimeout(() => finish({ success: false, error: "SVG loading timeout" }), timeoutMs);

  const img = new Image();
  img.onerror = () => finish({ success: false, error: "SVG load error" });
  img.onload = () => {
    try {
      const ow = img.naturalWidth || img.width || fallbackWidth;
      const oh = img.naturalHeight || img.height || fallbackHeight;
      const [w, h] = fitWithin(ow, oh, maxSize, maxSize);
      const canvas = document.createElement("canvas");
      canvas.width = w;
      canvas.height = h;
      const ctx = canvas.getContext("2d");
      if (!ctx) {
        finish({ success: false, error: "canvas context unavailable" });
        return;
      }
      ctx.drawImage(img, 0, 0, w, h);
      const dataUrl = canvas.toDataURL("image/png");
      finish({
        success: true,
        data: dataUrl.split(",")[1],
        width: w,
        height: h,
        originalWidth: ow,
        originalHeight: oh,
        mimeType: "image/png",
      });
    } catch (err) {
      finish({ success: false, error: String((err && err.message) || err) });
    }
  };
  img.src = svgDataUrl;
})`

// SVGThumbnailer rasterizes SVG images to PNG in the browser sandbox.
type SVGThumbnailer struct {
	cards   ports.CardRepository
	blobs   ports.BlobStore
	fetcher ports.BlobFetcher
	sandbox ports.BrowserSandbox
}

func NewSVGThumbnailer(
	cards ports.CardRepository,
	blobs ports.BlobStore,
	fetcher ports.BlobFetcher,
	sandbox ports.BrowserSandbox,
) *SVGThumbnailer {
	return &SVGThumbnailer{cards: cards, blobs: blobs, fetcher: fetcher, sandbox: sandbox}
}

// IsSVGCard matches by mime type or file extension.
func IsSVGCard(card *domain.Card) bool {
	if card.FileMetadata == nil {
		return false
	}
	if strings.EqualFold(card.FileMetadata.MimeType, "image/svg+xml") {
		return true
	}
	name := card.FileMetadata.FileName
	return strings.HasSuffix(name, ".svg") || strings.HasSuffix(name, ".SVG")
}

func (t *SVGThumbnailer) Generate(ctx context.Context, cardID string) domain.RenderResult {
	card, err := t.cards.GetByID(ctx, cardID)
	if err != nil {
		return renderLoadFailure(cardID, err)
	}
	if card.Type != domain.CardTypeImage || card.FileID == "" || !IsSVGCard(card) {
		return domain.RenderSkipped()
	}
	if card.ThumbnailID != "" {
		return domain.RenderExisting(card.ThumbnailID)
	}

	svgURL, err := t.blobs.URL(ctx, card.FileID)
	if err != nil || svgURL == "" {
		return domain.RenderFailed(domain.RenderErrMissingStorageURL)
	}

	raw, _, err := t.fetcher.Fetch(ctx, svgURL)
	if err != nil {
		return renderFailure(cardID, "fetch_source", err)
	}
	svgText := string(raw)
	if !LooksLikeSVG(svgText) {
		slog.Warn("thumbnail_failed", "card_id", cardID, "renderer", "svg", "error", "content is not svg")
		return domain.RenderFailed(domain.RenderErrInvalidSVG)
	}
	nativeWidth, nativeHeight, hasNative := SVGDimensions(svgText)

	script := renderScript(svgRasterScript, map[string]any{
		"svgDataUrl":     "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(raw),
		"maxSize":        svgThumbnailMax,
		"timeoutMs":      svgScriptTimeoutSec * 1000,
		"fallbackWidth":  svgFallbackNaturalWidth,
		"fallbackHeight": svgFallbackNaturalHeight,
	})
	capture, data, err := captureInSandbox(ctx, t.sandbox, "svg", cardID, domain.SandboxRequest{
		Code:       script,
		TimeoutSec: svgSandboxTimeoutSec,
	})
	if err != nil {
		return sandboxFailure(cardID, "svg", err)
	}

	thumbnailID, err := t.blobs.Store(ctx, data, capture.MimeType)
	if err != nil {
		return renderFailure(cardID, "store_thumbnail", err)
	}

	width, height := int(capture.OriginalWidth), int(capture.OriginalHeight)
	if hasNative {
		width, height = int(nativeWidth), int(nativeHeight)
	}
	patch := domain.CardPatch{
		ThumbnailID:  &thumbnailID,
		FileMetadata: withDimensions(card.FileMetadata, width, height),
	}
	if err := t.cards.Patch(ctx, cardID, patch); err != nil {
		return renderFailure(cardID, "patch_card", err)
	}

	slog.Info("thumbnail_generated",
		"card_id", cardID,
		"renderer", "svg",
		"width", capture.Width,
		"height", capture.Height,
	)
	return domain.RenderGenerated(thumbnailID)
}

func LooksLikeSVG(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "<svg") || strings.HasPrefix(trimmed, "<?xml")
}

// SVGDimensions reads width/height attributes of the root <svg> element,
// falling back to its viewBox.
func SVGDimensions(svg string) (float64, float64, bool) {
	var width, height float64

	svg = svgRootTag.FindString(svg)
	if svg == "" {
		return 0, 0, false
	}

	wm := svgWidthAttr.FindStringSubmatch(svg)
	hm := svgHeightAttr.FindStringSubmatch(svg)
	if wm != nil && hm != nil {
		width = parseLeadingFloat(wm[1])
		height = parseLeadingFloat(hm[1])
	} else if vb := svgViewBoxAttr.FindStringSubmatch(svg); vb != nil {
		parts := strings.Fields(strings.ReplaceAll(vb[1], ",", " "))
		if len(parts) == 4 {
			width = parseLeadingFloat(parts[2])
			height = parseLeadingFloat(parts[3])
		}
	}

	if width > 0 && height > 0 {
		return width, height, true
	}
	return 0, 0, false
}

func parseLeadingFloat(raw string) float64 {
	m := svgLeadingNum.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
