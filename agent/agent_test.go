package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/bridge"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSurface struct {
	id   string
	geom *artifact.Geometry
	err  error
}

func (s *fakeSurface) ID() string { return s.id }

func (s *fakeSurface) Geometry(context.Context) (*artifact.Geometry, error) {
	return s.geom, s.err
}

func newTestAgent(t *testing.T, surf Surface) (*PointerAgent, *manualClock) {
	t.Helper()
	clk := &manualClock{t: time.UnixMilli(1_000)}
	// A long flush interval keeps the ticker out of the way; tests flush
	// through clicks, which commit immediately.
	a := NewPointerAgent("tab-1", WithAgentLogger(quiet()), WithRecorderClock(clk.now), WithFlushInterval(time.Hour))
	if surf != nil {
		a.Bind(surf)
	}
	t.Cleanup(a.Close)
	return a, clk
}

func TestPointerAgent_StartStopTrace(t *testing.T) {
	geom := &artifact.Geometry{Width: 800, Height: 600, DPR: 2}
	a, clk := newTestAgent(t, &fakeSurface{id: "tab-1", geom: geom})
	ctx := context.Background()

	// Events before arming are ignored.
	_ = a.HandleBinding(`{"type":"click","x":1,"y":1}`)

	reply, err := a.Handle(ctx, bridge.StartPointer{SurfaceID: "tab-1"})
	if err != nil {
		t.Fatal(err)
	}
	if ack, ok := reply.(bridge.Ack); !ok || !ack.OK {
		t.Fatalf("start reply: %#v", reply)
	}

	clk.advance(120 * time.Millisecond)
	if err := a.HandleBinding(`{"type":"click","x":10,"y":20,"screenX":110,"screenY":220}`); err != nil {
		t.Fatal(err)
	}
	clk.advance(30 * time.Millisecond)
	_ = a.HandleBinding(`{"type":"click","x":30,"y":40}`)

	reply, err = a.Handle(ctx, bridge.StopPointer{SurfaceID: "tab-1"})
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := reply.(bridge.PointerTrace)
	if !ok {
		t.Fatalf("stop reply: %#v", reply)
	}
	if len(tr.Samples) != 2 {
		t.Fatalf("samples: %+v", tr.Samples)
	}
	first := tr.Samples[0]
	if first.TimestampMs != 120 || first.Kind != artifact.KindClick || !first.HasScreen() || *first.ScreenX != 110 {
		t.Errorf("first sample: %+v", first)
	}
	if tr.Samples[1].TimestampMs != 150 || tr.Samples[1].HasScreen() {
		t.Errorf("second sample: %+v", tr.Samples[1])
	}
	if tr.Geometry != geom {
		t.Errorf("geometry: %+v", tr.Geometry)
	}
}

func TestPointerAgent_MovesCoalesce(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ctx := context.Background()
	if _, err := a.Handle(ctx, bridge.StartPointer{}); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		_ = a.HandleBinding(`{"type":"move","x":1,"y":2}`)
	}
	a.rec.Flush()
	if n := a.rec.Len(); n != 1 {
		t.Fatalf("stored %d samples, want 1", n)
	}
}

func TestPointerAgent_ProbeAndHints(t *testing.T) {
	hints := &artifact.Geometry{Width: 1, Height: 1, DPR: 1}
	a, _ := newTestAgent(t, &fakeSurface{id: "tab-1", err: errors.New("page gone")})
	ctx := context.Background()

	reply, err := a.Handle(ctx, bridge.Probe{})
	if err != nil {
		t.Fatal(err)
	}
	if st := reply.(bridge.Status); st.Armed || st.Geometry != nil {
		t.Errorf("probe before start: %+v", st)
	}

	if _, err := a.Handle(ctx, bridge.StartPointer{Hints: hints}); err != nil {
		t.Fatal(err)
	}
	reply, _ = a.Handle(ctx, bridge.Probe{})
	if st := reply.(bridge.Status); !st.Armed || st.Geometry != hints {
		t.Errorf("probe while armed: %+v", st)
	}
	reply, _ = a.Handle(ctx, bridge.StopPointer{})
	if tr := reply.(bridge.PointerTrace); tr.Geometry != hints {
		t.Errorf("trace geometry should fall back to hints: %+v", tr.Geometry)
	}
}

func TestPointerAgent_SecondStopIsEmpty(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ctx := context.Background()
	_, _ = a.Handle(ctx, bridge.StartPointer{})
	_ = a.HandleBinding(`{"type":"click","x":1,"y":1}`)
	r1, _ := a.Handle(ctx, bridge.StopPointer{})
	r2, _ := a.Handle(ctx, bridge.StopPointer{})
	if len(r1.(bridge.PointerTrace).Samples) != 1 || len(r2.(bridge.PointerTrace).Samples) != 0 {
		t.Fatalf("got %+v then %+v", r1, r2)
	}
}

func TestPointerAgent_RejectsUnknown(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	if err := a.HandleBinding(`{"type":"wheel"}`); err == nil {
		t.Error("unknown event accepted")
	}
	if err := a.HandleBinding(`not json`); err == nil {
		t.Error("garbage accepted")
	}
	if _, err := a.Handle(context.Background(), bridge.StartEncoding{}); err == nil {
		t.Error("unexpected command accepted")
	}
}

func TestParseGeometry(t *testing.T) {
	g, err := parseGeometry(`{"width":1280,"height":720,"dpr":2,"outerWidth":1300,"outerHeight":800,"screenWidth":1920,"screenHeight":1080,"windowX":5,"windowY":6}`)
	if err != nil {
		t.Fatal(err)
	}
	if g.DPR != 2 || !g.HasWindowOrigin() || *g.WindowY != 6 || g.ScreenWidth != 1920 {
		t.Errorf("got %+v", g)
	}
	if _, err := parseGeometry(`{"width":0,"height":0}`); err == nil {
		t.Error("empty viewport accepted")
	}
}

func TestPointerScript_ClickEvents(t *testing.T) {
	if !strings.Contains(pointerJS, "addEventListener('click'") {
		t.Error("clicks are not taken from click events")
	}
	if strings.Contains(pointerJS, "mousedown") {
		t.Error("mousedown would turn drags and right presses into clicks")
	}
}
