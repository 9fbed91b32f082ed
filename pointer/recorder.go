// Package pointer samples pointer activity inside a recorded surface.
//
// Clicks are appended immediately. Moves are coalesced: only the latest move
// since the previous frame tick is kept, and Flush (called once per frame)
// appends it. Timestamps are relative to Start.
package pointer

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/malu/artifact"
)

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time

// Event is one raw pointer observation from the surface.
type Event struct {
	X, Y             float64
	ScreenX, ScreenY *float64
}

// Recorder is safe for concurrent use: input handlers and the frame ticker
// run on different goroutines.
type Recorder struct {
	now Clock

	mu      sync.Mutex
	armed   bool
	start   time.Time
	samples []artifact.Sample
	pending *artifact.Sample
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(r *Recorder) { r.now = c }
}

// NewRecorder returns a disarmed recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start arms the recorder and resets storage. Starting an armed recorder
// restarts it.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
	r.start = r.now()
	r.samples = nil
	r.pending = nil
}

// Armed reports whether the recorder is collecting samples.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// HandleMove buffers a move; it replaces any move not yet flushed.
func (r *Recorder) HandleMove(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return
	}
	s := r.sample(ev, artifact.KindMove)
	r.pending = &s
}

// HandleClick appends a click immediately.
func (r *Recorder) HandleClick(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return
	}
	r.samples = append(r.samples, r.sample(ev, artifact.KindClick))
}

// Flush appends the buffered move, if any. Call it once per frame.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Recorder) flushLocked() {
	if r.pending != nil {
		r.samples = append(r.samples, *r.pending)
		r.pending = nil
	}
}

// Run flushes every tick until ctx ends or the recorder is stopped.
func (r *Recorder) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !r.Armed() {
				return
			}
			r.Flush()
		}
	}
}

// Stop disarms the recorder and returns the samples in timestamp order. A
// move still buffered is dropped, like an animation frame that never ran.
// Storage is cleared; a second Stop returns nothing.
func (r *Recorder) Stop() []artifact.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = false
	r.pending = nil
	out := artifact.SortSamples(r.samples)
	r.samples = nil
	return out
}

// Len returns the number of stored samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *Recorder) sample(ev Event, kind artifact.Kind) artifact.Sample {
	return artifact.Sample{
		TimestampMs: r.now().Sub(r.start).Milliseconds(),
		X:           ev.X,
		Y:           ev.Y,
		ScreenX:     ev.ScreenX,
		ScreenY:     ev.ScreenY,
		Kind:        kind,
	}
}
