package media

import (
	"image"
	"math"
)

// Clip is a decoded video held in memory at a constant frame rate.
type Clip struct {
	Width  int
	Height int
	FPS    int
	Frames []*image.RGBA
}

// Size returns the native frame size.
func (c *Clip) Size() (int, int) { return c.Width, c.Height }

// DurationMs returns the playback length in milliseconds.
func (c *Clip) DurationMs() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(len(c.Frames)) * 1000 / float64(c.FPS)
}

// FrameAt returns the frame displayed at tMs, clamped to the clip.
func (c *Clip) FrameAt(tMs float64) image.Image {
	if len(c.Frames) == 0 {
		return nil
	}
	i := int(math.Floor(tMs * float64(c.FPS) / 1000))
	if i < 0 {
		i = 0
	}
	if i >= len(c.Frames) {
		i = len(c.Frames) - 1
	}
	return c.Frames[i]
}
