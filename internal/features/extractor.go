// Package features turns camera frames into fixed-length numeric vectors that
// models train and predict on.
//
// Extractors must be safe for concurrent use: the capture gate calls Process
// from one goroutine per recorded frame.
package features

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"imlab/internal/camera"
)

// Vector is a feature vector.
type Vector []float64

// ErrEmptyFrame is returned when a frame carries no image.
var ErrEmptyFrame = errors.New("frame has no image")

// Extractor transforms a frame into a Vector.
type Extractor interface {
	Name() string
	// Dim is the vector length, or 0 when it depends on the frame size.
	Dim() int
	Process(ctx context.Context, f *camera.Frame) (Vector, error)
}

// Config selects and parameterizes an extractor.
type Config struct {
	Kind    string        // pixels, histogram, raw or remote
	Grid    int           // pixels: side of the grid
	Bins    int           // histogram: bins per channel
	URL     string        // remote: endpoint
	Timeout time.Duration // remote: request timeout
}

// New builds the extractor described by c.
func New(c Config) (Extractor, error) {
	switch c.Kind {
	case "", "pixels":
		return NewPixels(c.Grid), nil
	case "histogram":
		return NewHistogram(c.Bins), nil
	case "raw":
		return Raw{}, nil
	case "remote":
		if c.URL == "" {
			return nil, fmt.Errorf("remote extractor requires a URL")
		}
		return NewRemote(c.URL, c.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown extractor kind %q", c.Kind)
	}
}

// Valid reports whether every component of v is finite.
func Valid(v Vector) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func luminance(c color.Color) float64 {
	return float64(color.GrayModel.Convert(c).(color.Gray).Y) / 255.0
}

func frameImage(f *camera.Frame) (image.Image, error) {
	if f == nil || f.Image == nil || f.Image.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}
	return f.Image, nil
}

// Raw passes the frame through unreduced as its full-resolution grayscale
// pixels, row-major.
type Raw struct{}

func (Raw) Name() string { return "raw" }
func (Raw) Dim() int     { return 0 }

func (Raw) Process(ctx context.Context, f *camera.Frame) (Vector, error) {
	img, err := frameImage(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	out := make(Vector, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, luminance(img.At(x, y)))
		}
	}
	return out, ctx.Err()
}
