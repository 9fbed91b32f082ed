package export

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/camera"
)

// DefaultPreviewFPS paces the preview loop.
const DefaultPreviewFPS = 60.0

// PlayerState describes the playback position and the last drawn camera.
type PlayerState struct {
	Loaded     bool          `json:"loaded"`
	Playing    bool          `json:"playing"`
	PositionMs float64       `json:"positionMs"`
	DurationMs float64       `json:"durationMs"`
	Seq        uint64        `json:"seq"`
	Mode       string        `json:"mode,omitempty"`
	Camera     camera.State  `json:"camera"`
	Cursor     *camera.Point `json:"cursor,omitempty"`
}

// Player replays an artifact in wall-clock time through one synthesizer.
// Its draw times only increase between rewinds, like a playing video.
type Player struct {
	fps    float64
	cam    camera.Options
	w, h   int
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	syn     *camera.Synthesizer
	src     Source
	playing bool
	pos     float64
	last    time.Time
	state   PlayerState
	img     image.Image
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPreviewFPS sets the render rate of Run.
func WithPreviewFPS(fps float64) PlayerOption {
	return func(p *Player) { p.fps = fps }
}

// WithCanvas fixes the canvas size; by default the video's native size.
func WithCanvas(w, h int) PlayerOption {
	return func(p *Player) { p.w, p.h = w, h }
}

// WithCamera sets the camera tuning.
func WithCamera(o camera.Options) PlayerOption {
	return func(p *Player) { p.cam = o }
}

// WithPlayerLogger sets the logger.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PlayerOption {
	return func(p *Player) { p.now = now }
}

// NewPlayer creates an empty player.
func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{
		fps:    DefaultPreviewFPS,
		cam:    camera.DefaultOptions(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Load replaces the artifact, rewinds and draws the first frame.
func (p *Player) Load(md artifact.Metadata, src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn != nil {
		_ = p.syn.Close()
	}
	w, h := p.w, p.h
	if w <= 0 || h <= 0 {
		w, h = src.Size()
	}
	p.syn = camera.New(md.Samples, md.Geometry, src, w, h,
		camera.WithOptions(p.cam), camera.WithLogger(p.logger))
	p.src = src
	p.img = nil
	p.playing = false
	p.pos = 0
	p.state = PlayerState{Loaded: true, DurationMs: src.DurationMs(), Mode: p.syn.Mode().String(), Seq: p.state.Seq}
	p.renderLocked()
	p.logger.Info("export: player loaded", "duration_ms", p.state.DurationMs,
		"samples", len(md.Samples), "mode", p.state.Mode)
}

// Play resumes playback; at the end of the clip it starts over.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn == nil || p.playing {
		return
	}
	if p.pos >= p.state.DurationMs {
		p.rewindLocked()
	}
	p.playing = true
	p.last = p.now()
	p.state.Playing = true
}

// Pause stops playback at the current position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.advanceLocked()
	p.playing = false
	p.state.Playing = false
}

// Rewind seeks to the start and resets the camera.
func (p *Player) Rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn == nil {
		return
	}
	p.rewindLocked()
	p.last = p.now()
	p.renderLocked()
}

func (p *Player) rewindLocked() {
	p.pos = 0
	p.syn.Reset()
}

// Tick advances playback to now and draws a frame. It is a no-op while
// paused.
func (p *Player) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn == nil || !p.playing {
		return
	}
	p.advanceLocked()
	p.renderLocked()
}

func (p *Player) advanceLocked() {
	now := p.now()
	p.pos += float64(now.Sub(p.last)) / float64(time.Millisecond)
	p.last = now
	if p.pos >= p.state.DurationMs {
		p.pos = p.state.DurationMs
		p.playing = false
		p.state.Playing = false
	}
}

func (p *Player) renderLocked() {
	fr := p.syn.Draw(p.pos)
	p.state.PositionMs = p.pos
	p.state.Camera = fr.Camera
	p.state.Cursor = fr.Cursor
	p.state.Seq++
	if fr.Image != nil {
		p.img = fr.Image
	}
}

// Run ticks at the preview rate until ctx ends.
func (p *Player) Run(ctx context.Context) {
	tk := time.NewTicker(time.Duration(float64(time.Second) / p.fps))
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			p.Tick()
		}
	}
}

// State returns the playback state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Frame returns the last drawn canvas, nil before Load. Draws never write
// into a returned image.
func (p *Player) Frame() (image.Image, PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.img, p.state
}

// Close releases the synthesizer.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syn == nil {
		return nil
	}
	err := p.syn.Close()
	p.syn = nil
	return err
}
