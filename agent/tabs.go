package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/malu/agent/internal/browser"
	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/media"
)

// BrowserConfig configures the Chrome instance behind Tabs.
type BrowserConfig struct {
	Remote      string
	Bin         string
	Mode        string // headless | headful
	XvfbDisplay string
}

// Tabs is the rod-backed TabCapturer and Attacher.
type Tabs struct {
	mgr    *browser.Manager
	logger *slog.Logger

	mu       sync.Mutex
	tabs     map[string]*browser.Tab
	attached map[string]context.CancelFunc
}

// StartBrowser launches or connects to Chrome and returns its tabs.
func StartBrowser(ctx context.Context, cfg BrowserConfig, logger *slog.Logger) (*Tabs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := browser.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:   cfg.Remote,
		Bin:         cfg.Bin,
		Mode:        mode,
		XvfbDisplay: cfg.XvfbDisplay,
		Logger:      logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return &Tabs{
		mgr:      mgr,
		logger:   logger,
		tabs:     make(map[string]*browser.Tab),
		attached: make(map[string]context.CancelFunc),
	}, nil
}

// Display is the X display Chrome renders to, empty when headless.
func (t *Tabs) Display() string { return t.mgr.Display() }

// Open creates a tab on pageURL and returns its surface id.
func (t *Tabs) Open(ctx context.Context, pageURL string) (string, error) {
	tab, err := browser.OpenTab(ctx, t.mgr, pageURL)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.tabs[tab.ID] = tab
	t.mu.Unlock()
	return tab.ID, nil
}

// Close detaches every surface, closes opened tabs and shuts Chrome down.
func (t *Tabs) Close() error {
	t.mu.Lock()
	for id, cancel := range t.attached {
		cancel()
		delete(t.attached, id)
	}
	for id, tab := range t.tabs {
		if err := tab.Close(); err != nil {
			t.logger.Debug("agent: close tab", "surface", id, "error", err)
		}
		delete(t.tabs, id)
	}
	t.mu.Unlock()
	return t.mgr.Close()
}

func (t *Tabs) page(id string) (*rod.Page, error) {
	t.mu.Lock()
	tab, ok := t.tabs[id]
	t.mu.Unlock()
	if ok {
		return tab.Page, nil
	}
	b := t.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("agent: no browser")
	}
	p, err := b.PageFromTarget(proto.TargetTargetID(id))
	if err != nil {
		return nil, fmt.Errorf("agent: surface %s: %w", id, err)
	}
	return p, nil
}

// Activate focuses the tab.
func (t *Tabs) Activate(ctx context.Context, surfaceID string) error {
	p, err := t.page(surfaceID)
	if err != nil {
		return err
	}
	if _, err := p.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("agent: activate %s: %w", surfaceID, err)
	}
	return nil
}

// Attach installs the binding and the pointer script. The script is also
// registered for new documents so it survives navigation.
func (t *Tabs) Attach(ctx context.Context, surfaceID string, onEvent func(string), onDetach func()) (Surface, error) {
	p, err := t.page(surfaceID)
	if err != nil {
		return nil, err
	}

	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(p); err != nil {
		t.logger.Warn("agent: addBinding failed (may already exist)", "surface", surfaceID, "error", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	wait := p.Context(listenCtx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name == BindingName {
				onEvent(e.Payload)
			}
		},
		func(e *proto.InspectorDetached) bool { return true },
	)
	go func() {
		wait()
		if listenCtx.Err() == nil {
			cancel()
			onDetach()
		}
	}()

	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: "(" + pointerJS + ")()"}).Call(p); err != nil {
		t.logger.Warn("agent: register script for new documents", "surface", surfaceID, "error", err)
	}
	if _, err := p.Context(ctx).Eval(pointerJS); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: inject pointer.js: %w", err)
	}

	t.mu.Lock()
	if old, ok := t.attached[surfaceID]; ok {
		old()
	}
	t.attached[surfaceID] = cancel
	t.mu.Unlock()
	return &pageSurface{id: surfaceID, page: p}, nil
}

// Screencast streams JPEG frames of the tab into a media.Feed. The feed ends
// when stopped or when the tab detaches.
func (t *Tabs) Screencast(ctx context.Context, surfaceID, streamID string, o ScreencastOptions) (media.Stream, error) {
	p, err := t.page(surfaceID)
	if err != nil {
		return nil, err
	}
	surf := &pageSurface{id: surfaceID, page: p}
	g, err := surf.Geometry(ctx)
	if err != nil {
		return nil, err
	}
	w, h := fitSize(g.Width*g.PixelRatio(), g.Height*g.PixelRatio(), o.MaxWidth, o.MaxHeight)

	castCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	feed := media.NewFeed(streamID, w, h, func() {
		cancel()
		_ = proto.PageStopScreencast{}.Call(p)
	})

	start := time.Now()
	wait := p.Context(castCtx).EachEvent(
		func(e *proto.PageScreencastFrame) {
			_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(p)
			img, err := jpeg.Decode(bytes.NewReader(e.Data))
			if err != nil {
				t.logger.Debug("agent: bad screencast frame", "stream", streamID, "error", err)
				return
			}
			feed.Push(media.Frame{Image: img, TimestampMs: time.Since(start).Milliseconds()})
		},
		func(e *proto.InspectorDetached) bool { return true },
	)
	go func() {
		wait()
		feed.End()
	}()

	quality, nth := o.Quality, max(o.EveryNthFrame, 1)
	err = proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		MaxWidth:      &w,
		MaxHeight:     &h,
		EveryNthFrame: &nth,
	}.Call(p)
	if err != nil {
		feed.End()
		return nil, fmt.Errorf("agent: start screencast: %w", err)
	}
	return feed, nil
}

// fitSize scales w×h down to fit maxW×maxH (0 means unbounded) and rounds to
// even dimensions, which VP8/VP9 encoders require.
func fitSize(w, h float64, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}
	scale := 1.0
	if maxW > 0 && w > float64(maxW) {
		scale = float64(maxW) / w
	}
	if maxH > 0 && h*scale > float64(maxH) {
		scale = float64(maxH) / h
	}
	even := func(v float64) int { return max(2, int(math.Round(v/2))*2) }
	return even(w * scale), even(h * scale)
}

type pageSurface struct {
	id   string
	page *rod.Page
}

func (s *pageSurface) ID() string { return s.id }

func (s *pageSurface) Geometry(ctx context.Context) (*artifact.Geometry, error) {
	res, err := s.page.Context(ctx).Eval(geometryJS)
	if err != nil {
		return nil, fmt.Errorf("agent: probe geometry: %w", err)
	}
	return parseGeometry(res.Value.Str())
}

func parseGeometry(raw string) (*artifact.Geometry, error) {
	var g artifact.Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("agent: parse geometry: %w", err)
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("agent: empty viewport %vx%v", g.Width, g.Height)
	}
	return &g, nil
}
