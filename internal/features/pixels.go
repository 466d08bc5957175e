package features

import (
	"context"
	"image"

	"imlab/internal/camera"

	"golang.org/x/image/draw"
)

const DefaultGrid = 16

// Pixels downsamples a frame to a Grid x Grid grayscale image. The vector keeps
// its spatial layout, which is what lets explanations render as heatmaps.
type Pixels struct {
	Grid int
}

func NewPixels(grid int) Pixels {
	if grid <= 0 {
		grid = DefaultGrid
	}
	return Pixels{Grid: grid}
}

func (p Pixels) Name() string { return "pixels" }
func (p Pixels) Dim() int     { return p.Grid * p.Grid }

func (p Pixels) Process(ctx context.Context, f *camera.Frame) (Vector, error) {
	img, err := frameImage(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.Grid, p.Grid))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make(Vector, 0, p.Dim())
	for y := 0; y < p.Grid; y++ {
		for x := 0; x < p.Grid; x++ {
			out = append(out, luminance(dst.At(x, y)))
		}
	}
	return out, nil
}
