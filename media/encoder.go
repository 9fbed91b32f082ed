package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
)

// VideoEncoder encodes a finite sequence of frames.
type VideoEncoder interface {
	// Begin initializes the encoder with the output size and frame rate.
	Begin(width, height int, fps float64, opts EncoderOptions) error
	// EncodeFrame encodes one frame at timestampMs.
	EncodeFrame(img image.Image, timestampMs int) error
	// End finalizes encoding and returns the video data.
	End() ([]byte, error)
}

// EncoderOptions configures an offline encode.
type EncoderOptions struct {
	Bitrate int // bits per second
	Codec   Codec
}

// OfflineEncoder implements VideoEncoder over a LiveEncoder. Output is
// collected in memory while frames are written.
type OfflineEncoder struct {
	ctx     context.Context
	newLive func(o EncodeOptions) EncoderFactory

	enc     LiveEncoder
	out     bytes.Buffer
	drained chan struct{}
	readErr error
	mu      sync.Mutex
	frames  int
}

// NewOfflineEncoder builds an offline encoder. newLive returns the live
// encoder factory for the options given to Begin.
func NewOfflineEncoder(ctx context.Context, newLive func(o EncodeOptions) EncoderFactory) *OfflineEncoder {
	return &OfflineEncoder{ctx: ctx, newLive: newLive}
}

// NewFFmpegEncoder is NewOfflineEncoder over f.
func NewFFmpegEncoder(ctx context.Context, f *FFmpeg) *OfflineEncoder {
	return NewOfflineEncoder(ctx, f.LiveEncoderFactory)
}

func (e *OfflineEncoder) Begin(width, height int, fps float64, opts EncoderOptions) error {
	if e.enc != nil {
		return errors.New("media: encoder already started")
	}
	codec := opts.Codec
	if codec.Format == "" {
		codec = PlatformDef
	}
	factory := e.newLive(EncodeOptions{FPS: int(fps + 0.5), Bitrate: opts.Bitrate})
	enc, err := factory(e.ctx, width&^1, height&^1, codec)
	if err != nil {
		return fmt.Errorf("media: begin encode: %w", err)
	}
	e.enc = enc
	e.drained = make(chan struct{})
	go func() {
		defer close(e.drained)
		buf := make([]byte, 32*1024)
		for {
			n, err := enc.Read(buf)
			if n > 0 {
				e.mu.Lock()
				e.out.Write(buf[:n])
				e.mu.Unlock()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					e.readErr = err
				}
				return
			}
		}
	}()
	return nil
}

func (e *OfflineEncoder) EncodeFrame(img image.Image, timestampMs int) error {
	if e.enc == nil {
		return errors.New("media: encoder not started")
	}
	if err := e.enc.WriteFrame(img); err != nil {
		return fmt.Errorf("media: encode frame at %dms: %w", timestampMs, err)
	}
	e.frames++
	return nil
}

func (e *OfflineEncoder) End() ([]byte, error) {
	if e.enc == nil {
		return nil, errors.New("media: encoder not started")
	}
	if err := e.enc.CloseInput(); err != nil {
		return nil, fmt.Errorf("media: end encode: %w", err)
	}
	<-e.drained
	if err := e.enc.Wait(); err != nil {
		return nil, fmt.Errorf("media: end encode: %w", err)
	}
	if e.readErr != nil {
		return nil, fmt.Errorf("media: end encode: %w", e.readErr)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.Clone(e.out.Bytes()), nil
}

// Frames returns the number of frames written.
func (e *OfflineEncoder) Frames() int { return e.frames }
