package features

import (
	"context"

	"imlab/internal/camera"
)

const DefaultBins = 8

// Histogram is a normalized per-channel (R, G, B) color histogram.
type Histogram struct {
	Bins int
}

func NewHistogram(bins int) Histogram {
	if bins <= 0 || bins > 256 {
		bins = DefaultBins
	}
	return Histogram{Bins: bins}
}

func (h Histogram) Name() string { return "histogram" }
func (h Histogram) Dim() int     { return 3 * h.Bins }

func (h Histogram) Process(ctx context.Context, f *camera.Frame) (Vector, error) {
	img, err := frameImage(f)
	if err != nil {
		return nil, err
	}

	out := make(Vector, h.Dim())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[h.bin(r)]++
			out[h.Bins+h.bin(g)]++
			out[2*h.Bins+h.bin(bl)]++
		}
	}

	total := float64(b.Dx() * b.Dy())
	for i := range out {
		out[i] /= total
	}
	return out, nil
}

// bin maps a 16-bit channel value to its bin index.
func (h Histogram) bin(v uint32) int {
	i := int(v>>8) * h.Bins / 256
	if i >= h.Bins {
		i = h.Bins - 1
	}
	return i
}
