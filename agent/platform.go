package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/malu/capture"
	"github.com/hazyhaar/malu/media"
)

// DefaultFirstFrameWait bounds how long a screen grab may take to deliver
// its first frame before the capture counts as refused.
const DefaultFirstFrameWait = 5 * time.Second

// ErrNoCapturer is returned for a source kind the platform was built without.
var ErrNoCapturer = errors.New("agent: no capturer for source")

// ScreencastOptions tune the DevTools screencast.
type ScreencastOptions struct {
	Quality       int // JPEG quality, 0-100
	MaxWidth      int
	MaxHeight     int
	EveryNthFrame int
}

// TabCapturer captures and focuses browser tabs.
type TabCapturer interface {
	Screencast(ctx context.Context, surfaceID, streamID string, o ScreencastOptions) (media.Stream, error)
	Activate(ctx context.Context, surfaceID string) error
}

// ScreenGrabber captures a whole screen. media.FFmpeg implements it.
type ScreenGrabber interface {
	GrabScreen(ctx context.Context, id string, s media.ScreenSource) (media.Stream, error)
}

// Platform implements capture.Platform on top of a tab capturer and a
// screen grabber; either may be nil.
type Platform struct {
	tabs       TabCapturer
	screen     ScreenGrabber
	cast       ScreencastOptions
	screenW    int
	screenH    int
	fps        int
	firstFrame time.Duration
	logger     *slog.Logger
}

// PlatformOption configures a Platform.
type PlatformOption func(*Platform)

// WithScreencast sets the screencast tuning.
func WithScreencast(o ScreencastOptions) PlatformOption {
	return func(p *Platform) { p.cast = o }
}

// WithScreenSize sets the screen grab size and frame rate.
func WithScreenSize(width, height, fps int) PlatformOption {
	return func(p *Platform) { p.screenW, p.screenH, p.fps = width, height, fps }
}

// WithFirstFrameWait overrides DefaultFirstFrameWait.
func WithFirstFrameWait(d time.Duration) PlatformOption {
	return func(p *Platform) { p.firstFrame = d }
}

// WithPlatformLogger sets the logger.
func WithPlatformLogger(l *slog.Logger) PlatformOption {
	return func(p *Platform) { p.logger = l }
}

// NewPlatform creates a platform.
func NewPlatform(tabs TabCapturer, screen ScreenGrabber, opts ...PlatformOption) *Platform {
	p := &Platform{
		tabs:   tabs,
		screen: screen,
		cast: ScreencastOptions{
			Quality:       80,
			MaxWidth:      1920,
			MaxHeight:     1080,
			EveryNthFrame: 1,
		},
		screenW:    1920,
		screenH:    1080,
		fps:        30,
		firstFrame: DefaultFirstFrameWait,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RequestStream starts a capture for src. Streams outlive ctx; they end
// when stopped or when the source goes away.
func (p *Platform) RequestStream(ctx context.Context, src capture.Source) (media.Stream, error) {
	id := "stream-" + uuid.NewString()
	base := context.WithoutCancel(ctx)

	switch src.Kind {
	case capture.SourceTab:
		if p.tabs == nil {
			return nil, fmt.Errorf("%w: tab", ErrNoCapturer)
		}
		if src.SurfaceID == "" {
			return nil, errors.New("agent: tab source needs a surface id")
		}
		st, err := p.tabs.Screencast(base, src.SurfaceID, id, p.cast)
		if err != nil {
			return nil, fmt.Errorf("agent: screencast %s: %w", src.SurfaceID, err)
		}
		p.logger.InfoContext(ctx, "agent: tab capture started", "surface", src.SurfaceID, "stream", id)
		return st, nil

	case capture.SourceScreen:
		if p.screen == nil {
			return nil, fmt.Errorf("%w: screen", ErrNoCapturer)
		}
		st, err := p.screen.GrabScreen(base, id, media.ScreenSource{
			Display: src.Display,
			Width:   p.screenW,
			Height:  p.screenH,
			FPS:     p.fps,
		})
		if err != nil {
			return nil, fmt.Errorf("agent: screen grab: %w", err)
		}
		primed, err := awaitFirstFrame(ctx, st, p.firstFrame)
		if err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "agent: screen capture started", "display", src.Display, "stream", id)
		return primed, nil
	}
	return nil, fmt.Errorf("agent: unknown source kind %q", src.Kind)
}

// ActivateSurface brings the tab to the front.
func (p *Platform) ActivateSurface(ctx context.Context, surfaceID string) error {
	if p.tabs == nil {
		return fmt.Errorf("%w: tab", ErrNoCapturer)
	}
	return p.tabs.Activate(ctx, surfaceID)
}

// awaitFirstFrame holds the stream back until it produced a frame. A grab
// that ends or stays silent is how a refused screen capture shows up.
func awaitFirstFrame(ctx context.Context, st media.Stream, wait time.Duration) (media.Stream, error) {
	t := time.NewTimer(wait)
	defer t.Stop()

	var first media.Frame
	select {
	case fr, ok := <-st.Frames():
		if !ok {
			st.Stop()
			return nil, fmt.Errorf("agent: screen capture ended before its first frame: %w", capture.ErrPermissionDenied)
		}
		first = fr
	case <-t.C:
		st.Stop()
		return nil, fmt.Errorf("agent: no screen frame after %s: %w", wait, capture.ErrPermissionDenied)
	case <-ctx.Done():
		st.Stop()
		return nil, ctx.Err()
	}

	w, h := st.Size()
	feed := media.NewFeed(st.ID(), w, h, st.Stop)
	feed.Push(first)
	go func() {
		defer feed.End()
		for fr := range st.Frames() {
			feed.Push(fr)
		}
	}()
	return feed, nil
}
