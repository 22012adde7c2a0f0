package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/rwcarlsen/goexif/exif"
)

const thumbnailMimeType = "image/webp"

// Processor decodes uploads upright and encodes WebP thumbnails.
type Processor struct{}

func New() *Processor {
	return &Processor{}
}

func (p *Processor) DecodeOriented(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode image", err)
	}
	return applyOrientation(img, readOrientation(data)), nil
}

func (p *Processor) EncodeThumbnail(img image.Image, width, height, quality int) ([]byte, string, error) {
	if width <= 0 || height <= 0 {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "encode thumbnail", fmt.Errorf("invalid size %dx%d", width, height))
	}
	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, webp.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), thumbnailMimeType, nil
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
