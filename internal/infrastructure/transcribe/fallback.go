package transcribe

import (
	"context"
	"log/slog"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// Fallback tries primary first and secondary when primary fails.
type Fallback struct {
	primary   ports.Transcriber
	secondary ports.Transcriber
}

func NewFallback(primary, secondary ports.Transcriber) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	text, err := f.primary.Transcribe(ctx, clip)
	if err == nil || f.secondary == nil {
		return text, err
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return "", err
	}
	slog.Warn("transcription_primary_failed", "error", err, "mime_type", clip.MimeType)
	return f.secondary.Transcribe(ctx, clip)
}
