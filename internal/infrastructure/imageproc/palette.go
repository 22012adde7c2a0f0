package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
)

const (
	paletteSampleTarget    = 4000
	paletteChannelStep     = 16
	paletteMinAlpha        = 16
	paletteMinDimension    = 12
	DefaultPaletteMaxColor = 5
)

// Palette returns up to maxColors dominant colors as uppercase #RRGGBB, most
// frequent first. Channels are quantized to steps of 16 and roughly 4000
// pixels are sampled. Images under 12px on a side yield nothing.
func (p *Processor) Palette(img image.Image, maxColors int) []string {
	if img == nil {
		return nil
	}
	if maxColors <= 0 {
		maxColors = DefaultPaletteMaxColor
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < paletteMinDimension || height < paletteMinDimension {
		return nil
	}

	total := width * height
	stride := max(1, total/paletteSampleTarget)
	counts := make(map[string]int)
	var first string
	for i := 0; i < total; i += stride {
		x := bounds.Min.X + i%width
		y := bounds.Min.Y + i/width
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		hex := quantizedHex(c)
		if first == "" {
			first = hex
		}
		if c.A < paletteMinAlpha {
			continue
		}
		counts[hex]++
	}
	if len(counts) == 0 {
		if first == "" {
			return nil
		}
		return []string{first}
	}

	colors := make([]string, 0, len(counts))
	for hex := range counts {
		colors = append(colors, hex)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return colors[i] < colors[j]
	})
	if len(colors) > maxColors {
		colors = colors[:maxColors]
	}
	return colors
}

func quantizedHex(c color.NRGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", quantize(c.R), quantize(c.G), quantize(c.B))
}

func quantize(v uint8) uint8 {
	q := math.Round(float64(v)/paletteChannelStep) * paletteChannelStep
	return uint8(min(255, max(0, q)))
}
