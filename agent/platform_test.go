package agent

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/hazyhaar/malu/capture"
	"github.com/hazyhaar/malu/media"
)

type fakeGrabber struct {
	feed   *media.Feed
	frames int
	end    bool
	got    media.ScreenSource
}

func (g *fakeGrabber) GrabScreen(ctx context.Context, id string, s media.ScreenSource) (media.Stream, error) {
	g.got = s
	g.feed = media.NewFeed(id, s.Width, s.Height, nil)
	for range g.frames {
		g.feed.Push(media.Frame{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))})
	}
	if g.end {
		g.feed.End()
	}
	return g.feed, nil
}

type fakeTabs struct {
	activated []string
	opts      ScreencastOptions
}

func (f *fakeTabs) Screencast(ctx context.Context, surfaceID, streamID string, o ScreencastOptions) (media.Stream, error) {
	f.opts = o
	return media.NewFeed(streamID, 640, 480, nil), nil
}

func (f *fakeTabs) Activate(ctx context.Context, surfaceID string) error {
	f.activated = append(f.activated, surfaceID)
	return nil
}

func TestPlatform_ScreenRelaysFrames(t *testing.T) {
	g := &fakeGrabber{frames: 2}
	p := NewPlatform(nil, g, WithScreenSize(320, 200, 15), WithPlatformLogger(quiet()))
	st, err := p.RequestStream(context.Background(), capture.Source{Kind: capture.SourceScreen, Display: ":1"})
	if err != nil {
		t.Fatal(err)
	}
	if g.got.Width != 320 || g.got.FPS != 15 || g.got.Display != ":1" {
		t.Errorf("grab request: %+v", g.got)
	}
	if w, h := st.Size(); w != 320 || h != 200 {
		t.Errorf("size %dx%d", w, h)
	}
	for i := range 2 {
		select {
		case <-st.Frames():
		case <-time.After(time.Second):
			t.Fatalf("frame %d not relayed", i)
		}
	}

	st.Stop()
	select {
	case <-g.feed.Done():
	case <-time.After(time.Second):
		t.Fatal("stopping the relay did not stop the grab")
	}
}

func TestPlatform_ScreenRefused(t *testing.T) {
	tests := []struct {
		name string
		g    *fakeGrabber
	}{
		{"ended before first frame", &fakeGrabber{end: true}},
		{"silent", &fakeGrabber{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlatform(nil, tt.g, WithFirstFrameWait(20*time.Millisecond), WithPlatformLogger(quiet()))
			_, err := p.RequestStream(context.Background(), capture.Source{Kind: capture.SourceScreen})
			if !errors.Is(err, capture.ErrPermissionDenied) {
				t.Fatalf("got %v, want permission denied", err)
			}
			select {
			case <-tt.g.feed.Done():
			default:
				t.Error("refused grab left running")
			}
		})
	}
}

func TestPlatform_Tab(t *testing.T) {
	tabs := &fakeTabs{}
	p := NewPlatform(tabs, nil, WithScreencast(ScreencastOptions{Quality: 50, MaxWidth: 800}), WithPlatformLogger(quiet()))
	ctx := context.Background()

	if _, err := p.RequestStream(ctx, capture.Source{Kind: capture.SourceTab}); err == nil {
		t.Error("tab source without surface accepted")
	}
	st, err := p.RequestStream(ctx, capture.Source{Kind: capture.SourceTab, SurfaceID: "T1"})
	if err != nil {
		t.Fatal(err)
	}
	if st.ID() == "" || tabs.opts.Quality != 50 {
		t.Errorf("stream %q opts %+v", st.ID(), tabs.opts)
	}
	if err := p.ActivateSurface(ctx, "T1"); err != nil || len(tabs.activated) != 1 {
		t.Errorf("activate: %v %v", err, tabs.activated)
	}

	if _, err := p.RequestStream(ctx, capture.Source{Kind: capture.SourceScreen}); !errors.Is(err, ErrNoCapturer) {
		t.Errorf("screen without grabber: %v", err)
	}
	if _, err := p.RequestStream(ctx, capture.Source{Kind: "window"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h         float64
		maxW, maxH   int
		wantW, wantH int
	}{
		{1280, 720, 1920, 1080, 1280, 720},
		{2560, 1440, 1920, 1080, 1920, 1080},
		{1000, 2000, 1920, 1080, 540, 1080},
		{1281, 721, 0, 0, 1282, 722},
		{0, 0, 0, 0, 1280, 720},
	}
	for _, tt := range tests {
		w, h := fitSize(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitSize(%v,%v,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}
