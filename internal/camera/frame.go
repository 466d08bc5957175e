// Package camera turns uploaded or replayed images into a live frame sequence.
//
// Frames are immutable once published. The Hub fans them out to subscribers
// with a drop-on-full policy: a slow consumer loses frames, it never slows the
// publisher down.
package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for uploads
	"strings"
	"time"

	"golang.org/x/image/draw"
)

// DefaultThumbnailSize is the longest side of a thumbnail in pixels.
const DefaultThumbnailSize = 64

// Frame is one camera sample.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
	Data      []byte // original encoded bytes, may be nil for synthetic frames
	Thumbnail string // data URL (image/jpeg)
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Decode parses a JPEG or PNG upload into a Frame with a thumbnail of at most
// thumbSize pixels on its longest side.
func Decode(data []byte, thumbSize int) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	f, err := FromImage(img, thumbSize)
	if err != nil {
		return nil, err
	}
	f.Data = data
	return f, nil
}

// FromImage wraps an already decoded image into a Frame.
func FromImage(img image.Image, thumbSize int) (*Frame, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("empty image")
	}
	thumb, err := Thumbnail(img, thumbSize)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Timestamp: time.Now(),
		Image:     img,
		Thumbnail: thumb,
	}, nil
}

// Thumbnail renders img scaled down to size on its longest side and returns it
// as a JPEG data URL.
func Thumbnail(img image.Image, size int) (string, error) {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h && w > size {
		h = max(1, h*size/w)
		w = size
	} else if h > w && h > size {
		w = max(1, w*size/h)
		h = size
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL returns the bytes of a base64 data URL. A bare base64 string
// is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return data, nil
}
