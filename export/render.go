// Package export renders a recorded artifact through the virtual camera.
// Render is the deterministic offline pass; Player drives the same
// synthesizer in wall-clock time for interactive preview.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/camera"
	"github.com/hazyhaar/malu/media"
)

// Defaults of the export pass.
const (
	DefaultFPS     = 60.0
	DefaultBitrate = 8_000_000
)

// Source is a decoded clip the camera can sample.
type Source interface {
	camera.FrameSource
	DurationMs() float64
}

// Options tune one render.
type Options struct {
	FPS     float64
	Bitrate int
	Codec   media.Codec
	// Width and Height of the output; zero uses the video's native size.
	Width  int
	Height int
	Camera camera.Options
	// Progress, if set, is called after each encoded frame.
	Progress func(frame, total int)
	Logger   *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Bitrate <= 0 {
		o.Bitrate = DefaultBitrate
	}
	if o.Codec.Format == "" {
		o.Codec = media.VP9
	}
	if o.Camera.FocusZoom == 0 {
		o.Camera = camera.DefaultOptions()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Rendered describes an encoded export.
type Rendered struct {
	Video      []byte
	Frames     int
	Width      int
	Height     int
	DurationMs float64
}

// FrameCount is the number of frames an export of durMs at fps contains.
func FrameCount(durMs, fps float64) int {
	if durMs <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(durMs * fps / 1000))
}

// Render runs a fresh synthesizer over src at t = i*1000/fps and feeds
// every frame to enc. Playback time is simulated, so the output only
// depends on the inputs.
func Render(ctx context.Context, md artifact.Metadata, src Source, enc media.VideoEncoder, opts Options) (*Rendered, error) {
	opts.applyDefaults()
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = src.Size()
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("export: invalid output size %dx%d", w, h)
	}
	total := FrameCount(src.DurationMs(), opts.FPS)
	if total == 0 {
		return nil, errors.New("export: empty clip")
	}

	syn := camera.New(md.Samples, md.Geometry, src, w, h,
		camera.WithOptions(opts.Camera), camera.WithLogger(opts.Logger))
	defer syn.Close()

	if err := enc.Begin(w, h, opts.FPS, media.EncoderOptions{Bitrate: opts.Bitrate, Codec: opts.Codec}); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	opts.Logger.Info("export: render started", "frames", total, "fps", opts.FPS,
		"width", w, "height", h, "mode", syn.Mode().String())

	for i := range total {
		if err := ctx.Err(); err != nil {
			_, _ = enc.End()
			return nil, err
		}
		t := float64(i) * 1000 / opts.FPS
		fr := syn.Draw(t)
		if fr.Image == nil {
			_, _ = enc.End()
			return nil, errors.New("export: nothing rendered")
		}
		if err := enc.EncodeFrame(fr.Image, int(t)); err != nil {
			_, _ = enc.End()
			return nil, fmt.Errorf("export: %w", err)
		}
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	video, err := enc.End()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Rendered{
		Video:      video,
		Frames:     total,
		Width:      w,
		Height:     h,
		DurationMs: src.DurationMs(),
	}, nil
}
