package camera

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/hazyhaar/malu/artifact"
)

type staticSource struct {
	w, h int
	img  image.Image
}

func (s staticSource) Size() (int, int)            { return s.w, s.h }
func (s staticSource) FrameAt(float64) image.Image { return s.img }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func move(ts int64, x, y float64) artifact.Sample {
	return artifact.Sample{TimestampMs: ts, X: x, Y: y, Kind: artifact.KindMove}
}

func screenMove(ts int64, x, y, sx, sy float64) artifact.Sample {
	s := move(ts, x, y)
	s.ScreenX, s.ScreenY = artifact.Float(sx), artifact.Float(sy)
	return s
}

func TestPosition_ClampsAndInterpolates(t *testing.T) {
	samples := []artifact.Sample{move(200, 20, 40), move(100, 10, 20)}
	s := New(samples, nil, nil, 1000, 1000, WithoutRendering())

	tests := []struct {
		t      float64
		wx, wy float64
	}{
		{0, 10, 20},     // before first
		{100, 10, 20},   // at first
		{150, 15, 30},   // midpoint
		{175, 17.5, 35}, // three quarters
		{200, 20, 40},   // at last
		{9999, 20, 40},  // after last
	}
	for _, tt := range tests {
		p, ok := s.Position(tt.t)
		if !ok {
			t.Fatalf("t=%v: no position", tt.t)
		}
		if !near(p.X, tt.wx) || !near(p.Y, tt.wy) {
			t.Errorf("t=%v: got (%v,%v), want (%v,%v)", tt.t, p.X, p.Y, tt.wx, tt.wy)
		}
	}
}

func TestPosition_EqualTimestamps(t *testing.T) {
	s := New([]artifact.Sample{move(100, 1, 1), move(100, 5, 5), move(200, 9, 9)}, nil, nil, 100, 100, WithoutRendering())
	p, _ := s.Position(100)
	if p.X != 1 {
		t.Errorf("got %v, want 1", p.X)
	}
}

func TestPosition_NoSamples(t *testing.T) {
	s := New(nil, nil, nil, 100, 100, WithoutRendering())
	if _, ok := s.Position(10); ok {
		t.Fatal("position without samples")
	}
}

func TestScreenModeExample(t *testing.T) {
	g := &artifact.Geometry{Width: 1900, Height: 950, DPR: 1, ScreenWidth: 1920, ScreenHeight: 1080, OuterWidth: 1920, OuterHeight: 1040}
	src := staticSource{w: 1920, h: 1080}
	s := New([]artifact.Sample{screenMove(0, 480, 420, 500, 500)}, g, src, 1920, 1080, WithoutRendering())
	if s.Mode() != ModeScreen {
		t.Fatalf("mode: got %v, want screen", s.Mode())
	}
	p, _ := s.Position(0)
	if !near(p.X, 500) || !near(p.Y, 500) {
		t.Errorf("got (%v,%v), want (500,500)", p.X, p.Y)
	}
}

func TestWindowModeExample(t *testing.T) {
	g := &artifact.Geometry{
		Width: 1180, Height: 800, DPR: 1,
		OuterWidth: 1200, OuterHeight: 900,
		ScreenWidth: 2560, ScreenHeight: 1440,
		WindowX: artifact.Float(50), WindowY: artifact.Float(50),
	}
	src := staticSource{w: 1200, h: 900}
	s := New([]artifact.Sample{screenMove(0, 90, 10, 150, 150)}, g, src, 1200, 900, WithoutRendering())
	if s.Mode() != ModeWindow {
		t.Fatalf("mode: got %v, want window", s.Mode())
	}
	p, _ := s.Position(0)
	if !near(p.X, 100) || !near(p.Y, 100) {
		t.Errorf("got (%v,%v), want (100,100)", p.X, p.Y)
	}
}

func TestViewportScaling(t *testing.T) {
	g := &artifact.Geometry{Width: 800, Height: 600, DPR: 2}
	src := staticSource{w: 1600, h: 1200}
	s := New([]artifact.Sample{screenMove(0, 100, 50, 999, 999)}, g, src, 1600, 1200, WithoutRendering())
	if s.Mode() != ModeViewport {
		t.Fatalf("mode: %v", s.Mode())
	}
	p, _ := s.Position(0)
	if !near(p.X, 200) || !near(p.Y, 100) {
		t.Errorf("got (%v,%v), want (200,100)", p.X, p.Y)
	}
}

func TestScreenModeFallsBackToPageCoords(t *testing.T) {
	g := &artifact.Geometry{Width: 1920, Height: 1080, DPR: 1, ScreenWidth: 1920, ScreenHeight: 1080}
	s := New([]artifact.Sample{move(0, 30, 40)}, g, staticSource{w: 1920, h: 1080}, 1920, 1080, WithoutRendering())
	p, _ := s.Position(0)
	if !near(p.X, 30) || !near(p.Y, 40) {
		t.Errorf("got (%v,%v), want (30,40)", p.X, p.Y)
	}
}

func TestDetectMode(t *testing.T) {
	g := &artifact.Geometry{Width: 1000, Height: 700, DPR: 2, ScreenWidth: 1440, ScreenHeight: 900, OuterWidth: 1000, OuterHeight: 800}
	tests := []struct {
		name   string
		g      *artifact.Geometry
		vw, vh int
		want   Mode
	}{
		{"screen", g, 2880, 1800, ModeScreen},
		{"screen within tolerance", g, 2889, 1791, ModeScreen},
		{"tolerance is strict", g, 2890, 1800, ModeViewport},
		{"window", g, 2000, 1600, ModeWindow},
		{"tab", g, 2000, 1400, ModeViewport},
		{"no geometry", nil, 2880, 1800, ModeViewport},
		{"unknown video size", g, 0, 0, ModeViewport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMode(tt.g, tt.vw, tt.vh, DefaultModeTolerance); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetZoom(t *testing.T) {
	click := artifact.Sample{TimestampMs: 200, Kind: artifact.KindClick}
	s := New([]artifact.Sample{move(0, 0, 0), click}, nil, nil, 100, 100, WithoutRendering())
	if z := s.TargetZoom(200); z != 1.8 {
		t.Errorf("t=200: got %v, want 1.8", z)
	}
	if z := s.TargetZoom(1500); z != 0.9 {
		t.Errorf("t=1500: got %v, want 0.9", z)
	}
	if z := s.TargetZoom(1000); z != 0.9 {
		t.Errorf("t=1000 (exactly 800ms away): got %v, want 0.9", z)
	}
	if z := s.TargetZoom(999); z != 1.8 {
		t.Errorf("t=999: got %v, want 1.8", z)
	}
}

func TestDraw_ZoomSelectionAroundClick(t *testing.T) {
	click := artifact.Sample{TimestampMs: 200, X: 50, Y: 50, Kind: artifact.KindClick}
	s := New([]artifact.Sample{click}, nil, nil, 100, 100, WithoutRendering())
	fr := s.Draw(200)
	// One step from 0.9 toward 1.8.
	if want := 0.9 + 0.05*(1.8-0.9); !near(fr.Camera.Zoom, want) {
		t.Errorf("zoom after draw(200): got %v, want %v", fr.Camera.Zoom, want)
	}
	s.Reset()
	fr = s.Draw(1500)
	if !near(fr.Camera.Zoom, 0.9) {
		t.Errorf("zoom after draw(1500): got %v, want 0.9", fr.Camera.Zoom)
	}
}

func TestStep_CenteredWhileZoomedOut(t *testing.T) {
	s := New([]artifact.Sample{move(0, 90, 90)}, nil, nil, 100, 100, WithoutRendering())
	for i := range 50 {
		st, cur := s.Step(float64(i * 16))
		if cur == nil {
			t.Fatal("no cursor")
		}
		if !near(st.CenterX, 50) || !near(st.CenterY, 50) {
			t.Fatalf("camera moved while zoom < 1: %+v", st)
		}
	}
}

func TestStep_PanClampedWhenZoomedIn(t *testing.T) {
	samples := []artifact.Sample{{TimestampMs: 0, X: 100, Y: 0, Kind: artifact.KindClick}}
	opts := DefaultOptions()
	opts.BaseZoom = 2
	opts.FocusZoom = 2
	s := New(samples, nil, nil, 100, 100, WithoutRendering(), WithOptions(opts))
	var st State
	for range 500 {
		st, _ = s.Step(0)
	}
	// Visible area is 50×50, so the center stays within [25, 75].
	if math.Abs(st.CenterX-75) > 0.01 || math.Abs(st.CenterY-25) > 0.01 {
		t.Errorf("center: got (%v,%v), want (75,25)", st.CenterX, st.CenterY)
	}
}

func TestStep_NoSamplesTargetsCenter(t *testing.T) {
	s := New(nil, nil, nil, 200, 100, WithoutRendering())
	st, cur := s.Step(0)
	if cur != nil {
		t.Fatal("cursor without samples")
	}
	if !near(st.CenterX, 100) || !near(st.CenterY, 50) || !near(st.Zoom, 0.9) {
		t.Errorf("state: %+v", st)
	}
}

func TestDeterminism(t *testing.T) {
	samples := []artifact.Sample{
		move(0, 10, 10), move(300, 80, 20),
		{TimestampMs: 400, X: 80, Y: 20, Kind: artifact.KindClick},
		move(900, 20, 90),
	}
	run := func() []State {
		s := New(samples, nil, nil, 160, 90, WithoutRendering())
		var out []State
		for i := range 120 {
			st, _ := s.Step(float64(i) * 1000 / 60)
			out = append(out, st)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("frame %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestCursorRadius(t *testing.T) {
	s := New(nil, nil, nil, 10, 10, WithoutRendering())
	if r := s.CursorRadius(1); r != 24 {
		t.Errorf("zoom 1: %v", r)
	}
	if r := s.CursorRadius(1.8); !near(r, 24/1.4) {
		t.Errorf("zoom 1.8: %v", r)
	}
}

func TestDraw_RendersComposite(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for i := range frame.Pix {
		frame.Pix[i] = 255
	}
	samples := []artifact.Sample{{TimestampMs: 0, X: 32, Y: 18, Kind: artifact.KindClick}}
	s := New(samples, nil, staticSource{w: 64, h: 36, img: frame}, 64, 36)
	defer s.Close()

	fr := s.Draw(0)
	if fr.Image == nil {
		t.Fatal("no image")
	}
	b := fr.Image.Bounds()
	if b.Dx() != 64 || b.Dy() != 36 {
		t.Fatalf("bounds: %v", b)
	}
	// The corner shows the gradient, not the white card.
	if c := color.RGBAModel.Convert(fr.Image.At(0, 0)).(color.RGBA); c.R == 255 && c.G == 255 && c.B == 255 {
		t.Errorf("corner is white: %+v", c)
	}
}

func TestDraw_NilFrameIsNoop(t *testing.T) {
	s := New([]artifact.Sample{move(0, 1, 1)}, nil, staticSource{w: 10, h: 10}, 10, 10)
	defer s.Close()
	fr := s.Draw(0)
	if fr.Image == nil || fr.Cursor == nil {
		t.Fatalf("frame: %+v", fr)
	}
}
