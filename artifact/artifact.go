// Package artifact defines the persisted bundle of one recording session:
// the encoded video, the pointer trace sampled inside the recorded surface,
// and the geometry needed to interpret the trace coordinates.
//
// Two metadata shapes exist on disk. Version 1 is a bare JSON array of
// samples (no geometry). Version 2 is an object {"samples": [...],
// "geometryContext": {...}}. Decode accepts both and always returns the
// normalized form; nothing downstream ever sees the legacy shape.
package artifact

import (
	"sort"
)

// Kind is the pointer event kind.
type Kind string

const (
	KindMove  Kind = "move"
	KindClick Kind = "click"
)

// Sample is one pointer observation. TimestampMs is relative to the start of
// the pointer recorder, not to the video clock.
type Sample struct {
	TimestampMs int64    `json:"timestamp"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	ScreenX     *float64 `json:"screenX,omitempty"`
	ScreenY     *float64 `json:"screenY,omitempty"`
	Kind        Kind     `json:"type"`
}

// HasScreen reports whether both absolute-screen coordinates are present.
func (s Sample) HasScreen() bool {
	return s.ScreenX != nil && s.ScreenY != nil
}

// Geometry holds the reference dimensions captured from the recorded surface.
// Width/Height (page viewport) and DPR are always present in recordings that
// carry geometry; the other fields may be zero in older recordings.
type Geometry struct {
	Width        float64  `json:"width"`
	Height       float64  `json:"height"`
	DPR          float64  `json:"dpr"`
	OuterWidth   float64  `json:"outerWidth,omitempty"`
	OuterHeight  float64  `json:"outerHeight,omitempty"`
	ScreenWidth  float64  `json:"screenWidth,omitempty"`
	ScreenHeight float64  `json:"screenHeight,omitempty"`
	WindowX      *float64 `json:"windowX,omitempty"`
	WindowY      *float64 `json:"windowY,omitempty"`
}

// PixelRatio returns DPR, defaulting to 1 when unset.
func (g *Geometry) PixelRatio() float64 {
	if g == nil || g.DPR <= 0 {
		return 1
	}
	return g.DPR
}

// HasWindowOrigin reports whether the window screen origin is known.
func (g *Geometry) HasWindowOrigin() bool {
	return g != nil && g.WindowX != nil
}

// Origin returns the window screen origin; a missing Y defaults to 0.
func (g *Geometry) Origin() (x, y float64) {
	if g == nil {
		return 0, 0
	}
	if g.WindowX != nil {
		x = *g.WindowX
	}
	if g.WindowY != nil {
		y = *g.WindowY
	}
	return x, y
}

// Metadata is the normalized "metadata" record.
type Metadata struct {
	Samples  []Sample  `json:"samples"`
	Geometry *Geometry `json:"geometryContext"`
}

// Artifact is the immutable result of one capture session.
type Artifact struct {
	Video    []byte
	MimeType string
	Metadata
}

// Empty reports whether the encoded video carries no bytes.
func (a *Artifact) Empty() bool {
	return a == nil || len(a.Video) == 0
}

// SortSamples returns a copy of samples sorted ascending by timestamp.
// The sort is stable so samples sharing a timestamp keep their capture order
// (a click recorded in the same millisecond as a move stays after it).
func SortSamples(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMs < out[j].TimestampMs
	})
	return out
}

// Float is a helper for optional coordinate fields.
func Float(v float64) *float64 { return &v }
