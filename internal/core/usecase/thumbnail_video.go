package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

const (
	videoThumbnailMax     = 400
	videoScriptTimeoutSec = 60
)

const videoFrameScript = `() => new Promise((resolve) => {
  const videoUrl = {{videoUrl}};
  const maxSize = {{maxSize}};
  const timeoutMs = {{timeoutMs}};
` + fitWithinJS + `
  let settled = false;
  const finish = (payload) => {
    if (settled) return;
    settled = true;
    clearTimeout(timer);
    resolve(JSON.stringify(payload));
  };
  const timer = setTimeout(() => finish({ success: false, error: "video frame capture timed out" }), timeoutMs);

  const video = document.createElement("video");
  video.crossOrigin = "anonymous";
  video.muted = true;
  video.playsInline = true;
  video.preload = "auto";

  video.onerror = () => finish({ success: false, error: "video load error" });
  video.onloadedmetadata = () => {
    const duration = isFinite(video.duration) ? video.duration : 0;
    video.currentTime = Math.max(0.1, Math.min(duration * 0.1, 5));
  };
  video.onseeked = () => {
    try {
      const vw = video.videoWidth;
      const vh = video.videoHeight;
      if (!vw || !vh) {
        finish({ success: false, error: "video has no frame dimensions" });
        return;
      }
      const [w, h] = fitWithin(vw, vh, maxSize, maxSize);
      const canvas = document.createElement("canvas");
      canvas.width = w;
      canvas.height = h;
      const ctx = canvas.getContext("2d");
      if (!ctx) {
        finish({ success: false, error: "canvas context unavailable" });
        return;
      }
      ctx.drawImage(video, 0, 0, w, h);

      let mimeType = "image/webp";
      let dataUrl = canvas.toDataURL("image/webp", 0.8);
      if (!dataUrl.startsWith("data:image/webp")) {
        mimeType = "image/jpeg";
        dataUrl = canvas.toDataURL("image/jpeg", 0.85);
      }
      finish({
        success: true,
        data: dataUrl.split(",")[1],
        width: w,
        height: h,
        originalWidth: vw,
        originalHeight: vh,
        duration: isFinite(video.duration) ? video.duration : 0,
        mimeType,
      });
    } catch (err) {
      finish({ success: false, error: String((err && err.message) || err) });
    }
  };
  video.src = videoUrl;
})`

// VideoThumbnailer captures a representative frame in the browser sandbox.
type VideoThumbnailer struct {
	cards   ports.CardRepository
	blobs   ports.BlobStore
	sandbox ports.BrowserSandbox
}

func NewVideoThumbnailer(cards ports.CardRepository, blobs ports.BlobStore, sandbox ports.BrowserSandbox) *VideoThumbnailer {
	return &VideoThumbnailer{cards: cards, blobs: blobs, sandbox: sandbox}
}

func (t *VideoThumbnailer) Generate(ctx context.Context, cardID string) domain.RenderResult {
	card, err := t.cards.GetByID(ctx, cardID)
	if err != nil {
		return renderLoadFailure(cardID, err)
	}
	if card.Type != domain.CardTypeVideo || card.FileID == "" {
		return domain.RenderSkipped()
	}
	if card.ThumbnailID != "" {
		return domain.RenderExisting(card.ThumbnailID)
	}

	videoURL, err := t.blobs.URL(ctx, card.FileID)
	if err != nil || videoURL == "" {
		return domain.RenderFailed(domain.RenderErrMissingStorageURL)
	}

	script := renderScript(videoFrameScript, map[string]any{
		"videoUrl":  videoURL,
		"maxSize":   videoThumbnailMax,
		"timeoutMs": videoScriptTimeoutSec * 1000,
	})
	capture, data, err := captureInSandbox(ctx, t.sandbox, "video", cardID, domain.SandboxRequest{
		Code:       script,
		TimeoutSec: videoScriptTimeoutSec,
	})
	if err != nil {
		return sandboxFailure(cardID, "video", err)
	}

	thumbnailID, err := t.blobs.Store(ctx, data, capture.MimeType)
	if err != nil {
		return renderFailure(cardID, "store_thumbnail", err)
	}

	fm := withDimensions(card.FileMetadata, int(capture.OriginalWidth), int(capture.OriginalHeight))
	if capture.Duration > 0 {
		fm.Duration = capture.Duration
	}
	if err := t.cards.Patch(ctx, cardID, domain.CardPatch{ThumbnailID: &thumbnailID, FileMetadata: fm}); err != nil {
		return renderFailure(cardID, "patch_card", err)
	}

	slog.Info("thumbnail_generated",
		"card_id", cardID,
		"renderer", "video",
		"mime_type", capture.MimeType,
		"width", capture.Width,
		"height", capture.Height,
	)
	return domain.RenderGenerated(thumbnailID)
}

func sandboxFailure(cardID, renderer string, err error) domain.RenderResult {
	slog.Error("thumbnail_failed", "card_id", cardID, "renderer", renderer, "error", err)
	var sbErr *sandboxError
	if errors.As(err, &sbErr) {
		return domain.RenderFailed(sbErr.code)
	}
	return domain.RenderFailed(err.Error())
}
