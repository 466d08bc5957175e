package features

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"time"

	"imlab/internal/camera"

	"github.com/go-resty/resty/v2"
)

// Remote delegates extraction to an HTTP feature service (for example a
// MobileNet model served next to this process). The frame is POSTed as an
// image body and the service answers {"features": [...]}.
type Remote struct {
	url  string
	rest *resty.Client
}

type remoteResp struct {
	Features []float64 `json:"features"`
	Error    string    `json:"error,omitempty"`
}

func NewRemote(url string, timeout time.Duration) *Remote {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	return &Remote{url: url, rest: r}
}

func (r *Remote) Name() string { return "remote" }
func (r *Remote) Dim() int     { return 0 }

func (r *Remote) Process(ctx context.Context, f *camera.Frame) (Vector, error) {
	body, contentType, err := encodeFrame(f)
	if err != nil {
		return nil, err
	}

	out := &remoteResp{}
	resp, err := r.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(out).
		SetError(out).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("feature service: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("feature service: %d %s", resp.StatusCode(), out.Error)
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("feature service returned no features")
	}
	v := Vector(out.Features)
	if !Valid(v) {
		return nil, fmt.Errorf("feature service returned non-finite values")
	}
	return v, nil
}

func encodeFrame(f *camera.Frame) ([]byte, string, error) {
	if f == nil {
		return nil, "", ErrEmptyFrame
	}
	if len(f.Data) > 0 {
		return f.Data, http.DetectContentType(f.Data), nil
	}
	img, err := frameImage(f)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}
