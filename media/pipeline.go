package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultSlice is the interval at which encoded output is cut into slices.
const DefaultSlice = 200 * time.Millisecond

// LiveEncoder consumes raw frames and produces an encoded container stream.
// Read returns io.EOF once CloseInput was called and the encoder flushed.
type LiveEncoder interface {
	io.Reader
	WriteFrame(img image.Image) error
	CloseInput() error
	Wait() error
}

// EncoderFactory starts a LiveEncoder for a given frame size.
type EncoderFactory func(ctx context.Context, width, height int, codec Codec) (LiveEncoder, error)

// Result is the concatenated output of a pipeline.
type Result struct {
	Video    []byte
	MimeType string
	Slices   int
}

// Pipeline turns a live Stream into an encoded video incrementally: frames
// are fed to the encoder as they arrive and encoded output is collected in
// time slices.
type Pipeline struct {
	stream Stream
	enc    LiveEncoder
	codec  Codec
	w, h   int
	slice  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	slices  [][]byte
	pending bytes.Buffer

	stopFeed chan struct{}
	fed      chan struct{}
	drained  chan struct{}
	drainErr error

	once   sync.Once
	result Result
	err    error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSlice sets the slice interval.
func WithSlice(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.slice = d }
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// StartPipeline starts encoding stream with codec.
func StartPipeline(ctx context.Context, stream Stream, codec Codec, factory EncoderFactory, opts ...PipelineOption) (*Pipeline, error) {
	w, h := stream.Size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("media: pipeline: invalid stream size %dx%d", w, h)
	}
	// Most encoders require even dimensions.
	w, h = w&^1, h&^1

	enc, err := factory(ctx, w, h, codec)
	if err != nil {
		return nil, fmt.Errorf("media: pipeline: start encoder: %w", err)
	}

	p := &Pipeline{
		stream:   stream,
		enc:      enc,
		codec:    codec,
		w:        w,
		h:        h,
		slice:    DefaultSlice,
		logger:   slog.Default(),
		stopFeed: make(chan struct{}),
		fed:      make(chan struct{}),
		drained:  make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	go p.feed()
	go p.drain()
	go p.tick()

	p.logger.Info("media: pipeline started",
		"stream", stream.ID(), "codec", codec.String(), "width", w, "height", h, "slice_ms", p.slice.Milliseconds())
	return p, nil
}

func (p *Pipeline) feed() {
	defer close(p.fed)
	defer func() {
		if err := p.enc.CloseInput(); err != nil {
			p.logger.Warn("media: close encoder input", "error", err)
		}
	}()
	frames := p.stream.Frames()
	for {
		select {
		case <-p.stopFeed:
			return
		case fr, ok := <-frames:
			if !ok {
				return
			}
			if err := p.enc.WriteFrame(Scale(fr.Image, p.w, p.h)); err != nil {
				p.logger.Error("media: encode frame", "stream", p.stream.ID(), "error", err)
				return
			}
		}
	}
}

func (p *Pipeline) drain() {
	defer close(p.drained)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.enc.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.pending.Write(buf[:n])
			p.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.drainErr = err
			}
			return
		}
	}
}

func (p *Pipeline) tick() {
	t := time.NewTicker(p.slice)
	defer t.Stop()
	for {
		select {
		case <-p.drained:
			return
		case <-t.C:
			p.cut()
		}
	}
}

// cut moves pending output into a new slice. Empty intervals produce no slice.
func (p *Pipeline) cut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return
	}
	p.slices = append(p.slices, bytes.Clone(p.pending.Bytes()))
	p.pending.Reset()
}

// Slices returns the number of slices collected so far.
func (p *Pipeline) Slices() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slices)
}

// Codec returns the codec in use.
func (p *Pipeline) Codec() Codec { return p.codec }

// Stop flushes the encoder, forces the final partial slice and returns the
// concatenated slices. The capture stream is stopped on every path. Repeated
// calls return the first result. A zero-byte result is logged and returned
// without error; the caller decides what an empty recording means.
func (p *Pipeline) Stop(ctx context.Context) (Result, error) {
	p.once.Do(func() {
		p.result, p.err = p.stop(ctx)
	})
	return p.result, p.err
}

func (p *Pipeline) stop(ctx context.Context) (Result, error) {
	defer p.stream.Stop()

	close(p.stopFeed)
	select {
	case <-p.drained:
	case <-ctx.Done():
		return Result{MimeType: p.codec.MimeType}, fmt.Errorf("media: pipeline: flush: %w", ctx.Err())
	}
	<-p.fed
	p.cut()

	waitErr := p.enc.Wait()

	p.mu.Lock()
	n := len(p.slices)
	video := bytes.Join(p.slices, nil)
	p.mu.Unlock()

	res := Result{Video: video, MimeType: p.codec.MimeType, Slices: n}
	if len(video) == 0 {
		p.logger.Error("media: pipeline produced an empty video", "stream", p.stream.ID())
	} else {
		p.logger.Info("media: pipeline stopped", "stream", p.stream.ID(), "bytes", len(video), "slices", n)
	}

	if p.drainErr != nil {
		return res, fmt.Errorf("media: pipeline: read encoder output: %w", p.drainErr)
	}
	if waitErr != nil {
		return res, fmt.Errorf("media: pipeline: encoder exit: %w", waitErr)
	}
	return res, nil
}
