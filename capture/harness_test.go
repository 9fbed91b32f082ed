package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/bridge"
	"github.com/hazyhaar/malu/media"
	"github.com/hazyhaar/malu/store"
)

const surface = "tab-1"

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlatform struct {
	mu        sync.Mutex
	n         int
	feeds     []*media.Feed
	err       error
	activated []string
}

func (p *fakePlatform) RequestStream(ctx context.Context, src Source) (media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.n++
	f := media.NewFeed(fmt.Sprintf("stream-%d", p.n), 64, 48, nil)
	p.feeds = append(p.feeds, f)
	return f, nil
}

func (p *fakePlatform) ActivateSurface(ctx context.Context, id string) error {
	p.mu.Lock()
	p.activated = append(p.activated, id)
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) last() *media.Feed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feeds[len(p.feeds)-1]
}

// fakeEncoder plays the encoder context: it confirms StopEncoding with a
// Saved signal carrying video.
type fakeEncoder struct {
	b      *bridge.Bridge
	video  []byte
	refuse bool
	silent bool
	starts atomic.Int32
	stops  atomic.Int32
}

func (e *fakeEncoder) open(ctx context.Context) error {
	e.b.Router().Register(media.EncoderTarget, e.handle)
	e.b.Post(bridge.Hello{Origin: media.EncoderTarget})
	return nil
}

func (e *fakeEncoder) handle(ctx context.Context, msg bridge.Message) (bridge.Message, error) {
	switch m := msg.(type) {
	case bridge.StartEncoding:
		e.starts.Add(1)
		if e.refuse {
			return bridge.Ack{Err: "no codec"}, nil
		}
		return bridge.Ack{OK: true}, nil
	case bridge.StopEncoding:
		e.stops.Add(1)
		if !e.silent {
			e.b.Post(bridge.Saved{StreamID: m.StreamID, MimeType: "video/webm", Video: e.video})
		}
		return bridge.Ack{OK: true}, nil
	}
	return nil, errors.New("unexpected")
}

func fakeAgent(b *bridge.Bridge) {
	b.Router().Register(surface, func(ctx context.Context, msg bridge.Message) (bridge.Message, error) {
		switch msg.(type) {
		case bridge.StartPointer:
			return bridge.Ack{OK: true}, nil
		case bridge.StopPointer:
			return bridge.PointerTrace{
				Samples: []artifact.Sample{
					{TimestampMs: 40, X: 4, Y: 4, Kind: artifact.KindMove},
					{TimestampMs: 10, X: 1, Y: 1, Kind: artifact.KindClick},
				},
				Geometry: &artifact.Geometry{Width: 800, Height: 600, DPR: 1},
			}, nil
		}
		return nil, errors.New("unexpected")
	})
}

type countingStore struct {
	*store.Store
	saves    atomic.Int32
	failSave bool
}

func (c *countingStore) SaveArtifact(ctx context.Context, a *artifact.Artifact) error {
	c.saves.Add(1)
	if c.failSave {
		return errors.New("disk full")
	}
	return c.Store.SaveArtifact(ctx, a)
}

type harness struct {
	s     *Session
	b     *bridge.Bridge
	plat  *fakePlatform
	enc   *fakeEncoder
	store *countingStore
}

func newHarness(t *testing.T, agent bool) *harness {
	t.Helper()
	b := bridge.New(bridge.NewRouter(bridge.WithRouterLogger(quiet())),
		bridge.WithLogger(quiet()),
		bridge.WithHandshake(3, time.Millisecond),
		bridge.WithInjector(bridge.InjectorFunc(func(context.Context, string) error { return nil })))
	if agent {
		fakeAgent(b)
	}
	h := &harness{
		b:     b,
		plat:  &fakePlatform{},
		enc:   &fakeEncoder{b: b, video: []byte("webm")},
		store: &countingStore{Store: store.OpenMemory(t, store.WithLogger(quiet()))},
	}
	h.s = New(Config{
		Bridge:       b,
		Platform:     h.plat,
		Store:        h.store,
		OpenEncoder:  h.enc.open,
		SaveWait:     time.Second,
		LateSaveWait: time.Second,
		Logger:       quiet(),
	})
	return h
}

func (h *harness) record(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.s.SelectSource(ctx, Source{Kind: SourceTab, SurfaceID: surface}); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	if err := h.s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := h.s.Status(); st != StatusRecording {
		t.Fatalf("status: %s", st)
	}
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status: got %s, want %s", s.Status(), want)
}

// pipeEncoder is a LiveEncoder writing one byte per frame.
type pipeEncoder struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	frames atomic.Int32
	once   sync.Once
}

func newPipeEncoder() *pipeEncoder {
	pr, pw := io.Pipe()
	return &pipeEncoder{pr: pr, pw: pw}
}

func (e *pipeEncoder) Read(p []byte) (int, error) { return e.pr.Read(p) }

func (e *pipeEncoder) WriteFrame(image.Image) error {
	e.frames.Add(1)
	_, err := e.pw.Write([]byte("F"))
	return err
}

func (e *pipeEncoder) CloseInput() error {
	e.once.Do(func() { e.pw.Close() })
	return nil
}

func (e *pipeEncoder) Wait() error { return nil }
