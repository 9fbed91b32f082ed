package camera

import (
	"math"

	"github.com/hazyhaar/malu/artifact"
)

// Mode is the coordinate space the recording was made in.
type Mode int

const (
	// ModeViewport is a tab recording: page coordinates map to the video.
	ModeViewport Mode = iota
	// ModeWindow is a whole browser window, chrome included.
	ModeWindow
	// ModeScreen is a full screen.
	ModeScreen
)

func (m Mode) String() string {
	switch m {
	case ModeWindow:
		return "window"
	case ModeScreen:
		return "screen"
	default:
		return "viewport"
	}
}

// DefaultModeTolerance is the per-axis pixel slack when matching the video
// size against a reference size.
const DefaultModeTolerance = 10.0

// DetectMode compares the native video size with screenSize×dpr, then
// windowOuterSize×dpr. Both axes must be strictly within tolerance. Anything
// else, including missing geometry or an unknown video size, is viewport.
func DetectMode(g *artifact.Geometry, videoW, videoH int, tolerance float64) Mode {
	if g == nil || videoW <= 0 || videoH <= 0 {
		return ModeViewport
	}
	dpr := g.PixelRatio()
	vw, vh := float64(videoW), float64(videoH)

	near := func(w, h float64) bool {
		return math.Abs(vw-w*dpr) < tolerance && math.Abs(vh-h*dpr) < tolerance
	}
	if g.ScreenWidth > 0 && g.ScreenHeight > 0 && near(g.ScreenWidth, g.ScreenHeight) {
		return ModeScreen
	}
	if g.OuterWidth > 0 && g.OuterHeight > 0 && near(g.OuterWidth, g.OuterHeight) {
		return ModeWindow
	}
	return ModeViewport
}

// referenceSize is the mode's coordinate extent used for scaling.
func referenceSize(m Mode, g *artifact.Geometry) (float64, float64) {
	if g == nil {
		return 0, 0
	}
	switch m {
	case ModeScreen:
		return g.ScreenWidth, g.ScreenHeight
	case ModeWindow:
		return g.OuterWidth, g.OuterHeight
	default:
		return g.Width, g.Height
	}
}
