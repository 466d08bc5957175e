package explain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// Grid returns the layout for n attribution weights: a square when n is a
// perfect square (pixel grids), otherwise a single row.
func Grid(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	side := int(math.Sqrt(float64(n)))
	for side*side > n {
		side--
	}
	for (side+1)*(side+1) <= n {
		side++
	}
	if side*side == n {
		return side, side
	}
	return 1, n
}

// Render draws weights row-major onto a rows x cols grid, scales it so the
// longest side is size pixels and returns a PNG data URL. Weights are
// normalised by their maximum; an all-zero vector renders cold.
func Render(weights []float64, rows, cols, size int) (string, error) {
	if len(weights) == 0 || rows*cols != len(weights) {
		return "", fmt.Errorf("cannot lay out %d weights on %dx%d", len(weights), rows, cols)
	}

	peak := floats.Max(weights)
	src := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for i, w := range weights {
		v := 0.0
		if peak > 0 && w > 0 {
			v = w / peak
		}
		src.Set(i%cols, i/cols, jet(v))
	}

	w, h := size, size
	if cols > rows {
		h = max(1, size*rows/cols)
	} else if rows > cols {
		w = max(1, size*cols/rows)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("encode heatmap: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// jet maps v in [0,1] from blue through green to red.
func jet(v float64) color.RGBA {
	channel := func(c float64) uint8 {
		return uint8(255 * math.Max(0, math.Min(1, 1.5-math.Abs(4*v-c))))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}
