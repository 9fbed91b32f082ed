// Package camera turns a recorded pointer trace into a virtual camera that
// pans and zooms toward the pointer, and composites each frame.
//
// A Synthesizer is built once per artifact. Draw(t) advances the camera by
// one smoothing step toward the target for t and renders the frame, so the
// camera state depends on the sequence of draw times: replaying the same
// increasing timestamps on a fresh synthesizer yields the same frames.
package camera

import (
	"image"
	"log/slog"
	"math"

	"github.com/gogpu/gg"

	"github.com/hazyhaar/malu/artifact"
)

// FrameSource provides decoded video frames.
type FrameSource interface {
	Size() (width, height int)
	// FrameAt returns the frame shown at tMs, or nil when none is ready.
	FrameAt(tMs float64) image.Image
}

// Options are the tuning constants of the camera.
type Options struct {
	FocusZoom     float64 // zoom near a click
	BaseZoom      float64 // floating zoom, < 1 shows the background around the card
	ClickWindowMs float64 // a click within this distance of t selects FocusZoom
	ZoomSmoothing float64 // lerp factor per draw
	PanSmoothing  float64 // lerp factor per draw
	ModeTolerance float64

	Gradient    []GradientStop
	CursorColor string
	CursorSize  float64 // radius at zoom 1
}

// GradientStop is one background color stop.
type GradientStop struct {
	Offset float64
	Color  string
}

// DefaultOptions returns the stock camera.
func DefaultOptions() Options {
	return Options{
		FocusZoom:     1.8,
		BaseZoom:      0.9,
		ClickWindowMs: 800,
		ZoomSmoothing: 0.05,
		PanSmoothing:  0.08,
		ModeTolerance: DefaultModeTolerance,
		Gradient: []GradientStop{
			{0, "#0093E9"},
			{0.5, "#80D0C7"},
			{1, "#80D0C7"},
		},
		CursorColor: "#FF4757",
		CursorSize:  24,
	}
}

// State is the camera transform: canvas-space center and zoom.
type State struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Zoom    float64 `json:"zoom"`
}

// Point is a canvas-space position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is the outcome of one draw.
type Frame struct {
	TimeMs       float64
	Camera       State
	Cursor       *Point // nil without samples
	CursorRadius float64
	// Image is a snapshot of the composited canvas, nil when rendering is
	// disabled.
	Image image.Image
}

// Synthesizer owns one camera. It is not safe for concurrent use.
type Synthesizer struct {
	samples []artifact.Sample
	geom    *artifact.Geometry
	src     FrameSource
	w, h    float64
	videoW  int
	videoH  int
	opts    Options
	mode    Mode
	state   State
	render  bool
	dc      *gg.Context
	logger  *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithOptions replaces the tuning constants.
func WithOptions(o Options) Option {
	return func(s *Synthesizer) { s.opts = o }
}

// WithoutRendering computes camera states only; Frame.Image stays nil.
func WithoutRendering() Option {
	return func(s *Synthesizer) { s.render = false }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New builds a synthesizer for a canvas of canvasW×canvasH. Samples are
// copied and sorted. src may be nil, in which case the canvas size is taken
// as the video size and no video is drawn.
func New(samples []artifact.Sample, geom *artifact.Geometry, src FrameSource, canvasW, canvasH int, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		samples: artifact.SortSamples(samples),
		geom:    geom,
		src:     src,
		w:       float64(canvasW),
		h:       float64(canvasH),
		opts:    DefaultOptions(),
		render:  true,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	s.videoW, s.videoH = canvasW, canvasH
	if src != nil {
		if w, h := src.Size(); w > 0 && h > 0 {
			s.videoW, s.videoH = w, h
		}
	}
	s.mode = DetectMode(geom, s.videoW, s.videoH, s.opts.ModeTolerance)
	if s.render && canvasW > 0 && canvasH > 0 {
		s.dc = gg.NewContext(canvasW, canvasH)
	}
	s.Reset()
	s.logger.Debug("camera: synthesizer ready",
		"mode", s.mode.String(), "samples", len(s.samples),
		"video_w", s.videoW, "video_h", s.videoH, "canvas_w", canvasW, "canvas_h", canvasH)
	return s
}

// Reset puts the camera back at the canvas center with the base zoom.
func (s *Synthesizer) Reset() {
	s.state = State{CenterX: s.w / 2, CenterY: s.h / 2, Zoom: s.opts.BaseZoom}
}

// Mode returns the detected coordinate space.
func (s *Synthesizer) Mode() Mode { return s.mode }

// State returns the current camera.
func (s *Synthesizer) State() State { return s.state }

// Samples returns the sorted trace.
func (s *Synthesizer) Samples() []artifact.Sample { return s.samples }

// Close releases the canvas.
func (s *Synthesizer) Close() error {
	if s.dc == nil {
		return nil
	}
	return s.dc.Close()
}

func lerp(a, b, t float64) float64 { return a*(1-t) + b*t }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// Position returns the pointer position at t in video-native pixels. It
// clamps to the first and last samples and interpolates linearly between
// the samples bracketing t. ok is false without samples.
func (s *Synthesizer) Position(t float64) (p Point, ok bool) {
	n := len(s.samples)
	if n == 0 {
		return Point{}, false
	}
	first, last := s.samples[0], s.samples[n-1]
	if t <= float64(first.TimestampMs) {
		return s.mapPair(first, first, 0), true
	}
	if t >= float64(last.TimestampMs) {
		return s.mapPair(last, last, 0), true
	}

	prev, next := first, last
	for i := 0; i < n-1; i++ {
		if float64(s.samples[i].TimestampMs) <= t && float64(s.samples[i+1].TimestampMs) >= t {
			prev, next = s.samples[i], s.samples[i+1]
			break
		}
	}
	var f float64
	if d := float64(next.TimestampMs - prev.TimestampMs); d != 0 {
		f = (t - float64(prev.TimestampMs)) / d
	}
	return s.mapPair(prev, next, f), true
}

// mapPair interpolates the raw coordinates of the mode and scales them to the
// video's native size.
func (s *Synthesizer) mapPair(prev, next artifact.Sample, f float64) Point {
	var px, py, nx, ny float64
	switch {
	case s.mode == ModeScreen && prev.HasScreen() && next.HasScreen():
		px, py, nx, ny = *prev.ScreenX, *prev.ScreenY, *next.ScreenX, *next.ScreenY
	case s.mode == ModeWindow && prev.HasScreen() && next.HasScreen() && s.geom.HasWindowOrigin():
		ox, oy := s.geom.Origin()
		px, py = *prev.ScreenX-ox, *prev.ScreenY-oy
		nx, ny = *next.ScreenX-ox, *next.ScreenY-oy
	default:
		px, py, nx, ny = prev.X, prev.Y, next.X, next.Y
	}
	p := Point{X: lerp(px, nx, f), Y: lerp(py, ny, f)}

	if rw, rh := referenceSize(s.mode, s.geom); rw > 0 && rh > 0 {
		p.X *= float64(s.videoW) / rw
		p.Y *= float64(s.videoH) / rh
	}
	return p
}

// canvasPoint maps a video-native position onto the canvas, where the video
// is drawn at (0, 0, canvasW, canvasH).
func (s *Synthesizer) canvasPoint(p Point) Point {
	if s.videoW <= 0 || s.videoH <= 0 {
		return p
	}
	return Point{X: p.X * s.w / float64(s.videoW), Y: p.Y * s.h / float64(s.videoH)}
}

// TargetZoom is FocusZoom when any click lies strictly within ClickWindowMs
// of t, else BaseZoom.
func (s *Synthesizer) TargetZoom(t float64) float64 {
	for _, smp := range s.samples {
		if smp.Kind == artifact.KindClick && math.Abs(float64(smp.TimestampMs)-t) < s.opts.ClickWindowMs {
			return s.opts.FocusZoom
		}
	}
	return s.opts.BaseZoom
}

// Step advances the camera one smoothing step toward its target at t and
// returns the cursor position in canvas space.
func (s *Synthesizer) Step(t float64) (State, *Point) {
	s.state.Zoom = lerp(s.state.Zoom, s.TargetZoom(t), s.opts.ZoomSmoothing)

	tx, ty := s.w/2, s.h/2
	var cursor *Point
	if pos, ok := s.Position(t); ok {
		cp := s.canvasPoint(pos)
		cursor = &cp
		if s.state.Zoom >= 1 {
			visW, visH := s.w/s.state.Zoom, s.h/s.state.Zoom
			tx = clamp(cp.X, visW/2, s.w-visW/2)
			ty = clamp(cp.Y, visH/2, s.h-visH/2)
		}
	}
	s.state.CenterX = lerp(s.state.CenterX, tx, s.opts.PanSmoothing)
	s.state.CenterY = lerp(s.state.CenterY, ty, s.opts.PanSmoothing)
	return s.state, cursor
}

// CursorRadius is the marker radius for zoom; it shrinks as the camera
// zooms in so the on-screen size stays comparable.
func (s *Synthesizer) CursorRadius(zoom float64) float64 {
	return s.opts.CursorSize / (zoom*0.5 + 0.5)
}

// Draw advances the camera for t and composites the frame. Rendering
// failures are logged and leave the previous canvas in place.
func (s *Synthesizer) Draw(t float64) Frame {
	st, cursor := s.Step(t)
	fr := Frame{TimeMs: t, Camera: st, Cursor: cursor}
	if cursor != nil {
		fr.CursorRadius = s.CursorRadius(st.Zoom)
	}
	if s.dc == nil {
		return fr
	}
	if err := s.composite(t, fr); err != nil {
		s.logger.Warn("camera: draw failed", "t", t, "error", err)
	}
	fr.Image = s.dc.Image()
	return fr
}
