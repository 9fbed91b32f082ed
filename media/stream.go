// Package media turns live capture streams into encoded video and decodes
// recorded video back into frames. Encoding and decoding shell out to ffmpeg;
// the pipeline and the encoder host only depend on the LiveEncoder interface.
package media

import (
	"fmt"
	"image"
	"sync"
)

// Frame is one decoded video frame from a live capture.
type Frame struct {
	Image       image.Image
	TimestampMs int64
}

// Stream is an opaque live capture handle. Frames is closed when the
// capture ends for any reason (Stop, user revoked sharing, surface closed);
// Done is closed at the same time.
type Stream interface {
	ID() string
	Size() (width, height int)
	Frames() <-chan Frame
	Done() <-chan struct{}
	// Stop releases the capture tracks. It is idempotent.
	Stop()
}

// Feed is a push-driven Stream. Producers call Push for each captured frame
// and End when the source goes away.
type Feed struct {
	id     string
	w, h   int
	frames chan Frame
	done   chan struct{}
	onStop func()

	mu    sync.Mutex
	ended bool
}

// NewFeed creates a feed buffering up to 8 frames. onStop, if non-nil, runs
// once when the feed ends.
func NewFeed(id string, width, height int, onStop func()) *Feed {
	return &Feed{
		id:     id,
		w:      width,
		h:      height,
		frames: make(chan Frame, 8),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (f *Feed) ID() string            { return f.id }
func (f *Feed) Size() (int, int)      { return f.w, f.h }
func (f *Feed) Frames() <-chan Frame  { return f.frames }
func (f *Feed) Done() <-chan struct{} { return f.done }

// Push offers a frame. When the consumer lags, the oldest buffered frame is
// dropped. Push after End is a no-op.
func (f *Feed) Push(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	select {
	case f.frames <- fr:
		return
	default:
	}
	select {
	case <-f.frames:
	default:
	}
	select {
	case f.frames <- fr:
	default:
	}
}

// End marks the source as gone.
func (f *Feed) End() {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		return
	}
	f.ended = true
	close(f.frames)
	close(f.done)
	f.mu.Unlock()
	if f.onStop != nil {
		f.onStop()
	}
}

// Stop is End.
func (f *Feed) Stop() { f.End() }

// Registry maps stream ids to live streams so the encoder context can look
// up the stream it was told to encode.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]Stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]Stream)}
}

// Add registers s; the id must be unused.
func (r *Registry) Add(s Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[s.ID()]; ok {
		return fmt.Errorf("media: stream %s already registered", s.ID())
	}
	r.streams[s.ID()] = s
	return nil
}

// Get returns the stream for id.
func (r *Registry) Get(id string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// Remove forgets id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}
