package media

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
)

// fakeEncoder writes one "F" per frame and "END" when its input closes.
type fakeEncoder struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	frames  atomic.Int32
	silent  bool
	waitErr error
	closed  atomic.Bool
}

func newFakeEncoder() *fakeEncoder {
	pr, pw := io.Pipe()
	return &fakeEncoder{pr: pr, pw: pw}
}

func (f *fakeEncoder) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakeEncoder) WriteFrame(img image.Image) error {
	if img == nil {
		return errors.New("nil frame")
	}
	f.frames.Add(1)
	if f.silent {
		return nil
	}
	_, err := f.pw.Write([]byte("F"))
	return err
}

func (f *fakeEncoder) CloseInput() error {
	if f.closed.Swap(true) {
		return nil
	}
	if !f.silent {
		if _, err := f.pw.Write([]byte("END")); err != nil {
			return err
		}
	}
	return f.pw.Close()
}

func (f *fakeEncoder) Wait() error { return f.waitErr }

func factoryFor(enc *fakeEncoder) EncoderFactory {
	return func(ctx context.Context, w, h int, c Codec) (LiveEncoder, error) {
		return enc, nil
	}
}

func testFrame() Frame {
	return Frame{Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
}
