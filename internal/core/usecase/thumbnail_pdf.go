package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	pdfThumbnailMaxWidth  = 400
	pdfThumbnailMaxHeight = 700
	pdfScriptTimeoutSec   = 120

	pdfJSModuleURL = "https://cdn.jsdelivr.net/npm/pdfjs-dist@4.10.38/build/pdf.min.mjs"
	pdfJSWorkerURL = "https://cdn.jsdelivr.net/npm/pdfjs-dist@4.10.38/build/pdf.worker.min.mjs"
)

// pdfPageScript draws the first page with pdf.js and returns it as PNG.
const pdfPageScript = `async () => {
  const pdfUrl = {{pdfUrl}};
  const maxWidth = {{maxWidth}};
  const maxHeight = {{maxHeight}};
  const timeoutMs = {{timeoutMs}};
` + fitWithinJS + `
  const render = async () => {
    const pdfjs = await import({{moduleUrl}});
    pdfjs.GlobalWorkerOptions.workerSrc = {{workerUrl}};
    const doc = await pdfjs.getDocument({ url: pdfUrl }).promise;
    const page = await doc.getPage(1);
    const base = page.getViewport({ scale: 1 });
    const [w, h] = fitWithin(base.width, base.height, maxWidth, maxHeight);
    const viewport = page.getViewport({ scale: w / base.width });

    const canvas = document.createElement("canvas");
    canvas.width = w;
    canvas.height = h;
    const ctx = canvas.getContext("2d");
    if (!ctx) {
      return { success: false, error: "canvas context unavailable" };
    }
    ctx.fillStyle = "#ffffff";
    ctx.fillRect(0, 0, w, h);
    await page.render({ canvasContext: ctx, viewport }).promise;
    await doc.destroy();

    return {
      success: true,
      data: canvas.toDataURL("image/png").split(",")[1],
      width: w,
      height: h,
      originalWidth: base.width,
      originalHeight: base.height,
      mimeType: "image/png",
    };
  };

  const timeout = new Promise((resolve) =>
    setTimeout(() => resolve({ success: false, error: "pdf render timed out" }), timeoutMs));
  try {
    return JSON.stringify(await Promise.race([render(), timeout]));
  } catch (err) {
    return JSON.stringify({ success: false, error: String((err && err.message) || err) });
  }
}`

// PDFThumbnailer renders the first page of PDF documents in the browser sandbox.
type PDFThumbnailer struct {
	cards   ports.CardRepository
	blobs   ports.BlobStore
	sandbox ports.BrowserSandbox
}

func NewPDFThumbnailer(cards ports.CardRepository, blobs ports.BlobStore, sandbox ports.BrowserSandbox) *PDFThumbnailer {
	return &PDFThumbnailer{cards: cards, blobs: blobs, sandbox: sandbox}
}

func IsPDFCard(card *domain.Card) bool {
	return strings.EqualFold(strings.TrimSpace(card.MimeType()), "application/pdf")
}

func (t *PDFThumbnailer) Generate(ctx context.Context, cardID string) domain.RenderResult {
	card, err := t.cards.GetByID(ctx, cardID)
	if err != nil {
		return renderLoadFailure(cardID, err)
	}
	if card.Type != domain.CardTypeDocument || card.FileID == "" || !IsPDFCard(card) {
		return domain.RenderSkipped()
	}
	if card.ThumbnailID != "" {
		return domain.RenderExisting(card.ThumbnailID)
	}

	pdfURL, err := t.blobs.URL(ctx, card.FileID)
	if err != nil || pdfURL == "" {
		return domain.RenderFailed(domain.RenderErrMissingStorageURL)
	}

	script := renderScript(pdfPageScript, map[string]any{
		"pdfUrl":    pdfURL,
		"maxWidth":  pdfThumbnailMaxWidth,
		"maxHeight": pdfThumbnailMaxHeight,
		"timeoutMs": (pdfScriptTimeoutSec - 10) * 1000,
		"moduleUrl": pdfJSModuleURL,
		"workerUrl": pdfJSWorkerURL,
	})
	capture, data, err := captureInSandbox(ctx, t.sandbox, "pdf", cardID, domain.SandboxRequest{
		Code:       script,
		TimeoutSec: pdfScriptTimeoutSec,
	})
	if err != nil {
		return sandboxFailure(cardID, "pdf", err)
	}

	thumbnailID, err := t.blobs.Store(ctx, data, capture.MimeType)
	if err != nil {
		return renderFailure(cardID, "store_thumbnail", err)
	}
	if err := t.cards.Patch(ctx, cardID, domain.CardPatch{ThumbnailID: &thumbnailID}); err != nil {
		return renderFailure(cardID, "patch_card", err)
	}

	slog.Info("thumbnail_generated",
		"card_id", cardID,
		"renderer", "pdf",
		"width", capture.Width,
		"height", capture.Height,
	)
	return domain.RenderGenerated(thumbnailID)
}
