package camera

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	remoteReadLimit  = 8 << 20
	remoteStaleAfter = 60 * time.Second
	remoteMaxBackoff = 30 * time.Second
)

// Remote pulls frames from a websocket that pushes them, such as an IP camera
// relay. Binary messages carry JPEG or PNG bytes, text messages a data URL.
type Remote struct {
	url       string
	ping      time.Duration
	thumbSize int
	backoff   time.Duration
	dialer    *websocket.Dialer
}

// NewRemote creates a remote source. Nothing is dialled until Run.
func NewRemote(url string, ping time.Duration, thumbSize int) *Remote {
	if ping <= 0 {
		ping = 15 * time.Second
	}
	return &Remote{
		url:       url,
		ping:      ping,
		thumbSize: thumbSize,
		backoff:   time.Second,
		dialer:    websocket.DefaultDialer,
	}
}

// Run publishes received frames into hub until ctx is done. Dropped
// connections are retried with exponential backoff, reset once a connection
// delivers a frame.
func (r *Remote) Run(ctx context.Context, hub *Hub) error {
	backoff := r.backoff
	for {
		frames, err := r.streamOnce(ctx, hub)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if frames > 0 {
			backoff = r.backoff
		}
		log.Warn().Err(err).Str("url", r.url).Int("frames", frames).Dur("backoff", backoff).Msg("camera stream lost, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, remoteMaxBackoff)
	}
}

func (r *Remote) streamOnce(ctx context.Context, hub *Hub) (int, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	log.Info().Str("url", r.url).Str("camera", hub.Name()).Msg("camera stream connected")

	conn.SetReadLimit(remoteReadLimit)
	conn.SetReadDeadline(time.Now().Add(remoteStaleAfter))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(remoteStaleAfter))
	})

	// Keep-alive pings; closing the connection on cancel unblocks the read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(r.ping)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					log.Debug().Err(err).Msg("camera stream ping failed")
					return
				}
			}
		}
	}()

	var frames int
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return frames, fmt.Errorf("closed by server: %w", err)
			}
			return frames, fmt.Errorf("read message failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(remoteStaleAfter))

		data := msg
		if kind == websocket.TextMessage {
			if data, err = DecodeDataURL(strings.TrimSpace(string(msg))); err != nil {
				log.Debug().Err(err).Msg("skipping malformed camera message")
				continue
			}
		}
		frame, err := Decode(data, r.thumbSize)
		if err != nil {
			log.Debug().Err(err).Int("bytes", len(data)).Msg("skipping undecodable camera frame")
			continue
		}
		frames++
		hub.Publish(frame)
	}
}
