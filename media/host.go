package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/malu/bridge"
)

// EncoderTarget is the bridge target the encoder context listens on.
const EncoderTarget = "encoder"

// Host is the encoder context: it owns the running pipelines and talks to the
// orchestrator only through bridge messages. Its log lines are forwarded
// through the bridge as LogLine signals.
type Host struct {
	b        *bridge.Bridge
	streams  *Registry
	factory  EncoderFactory
	supports func(Codec) bool
	prefs    []Codec
	slice    time.Duration
	stopWait time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	open      bool
	pipelines map[string]*Pipeline
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithCodecs overrides the codec preference list.
func WithCodecs(prefs ...Codec) HostOption {
	return func(h *Host) { h.prefs = prefs }
}

// WithSupport sets the codec support predicate.
func WithSupport(fn func(Codec) bool) HostOption {
	return func(h *Host) { h.supports = fn }
}

// WithHostSlice sets the pipeline slice interval.
func WithHostSlice(d time.Duration) HostOption {
	return func(h *Host) { h.slice = d }
}

// WithHostLogger sets the logger used for pipeline internals.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// NewHost creates an encoder context. It is not reachable until Open.
func NewHost(b *bridge.Bridge, streams *Registry, factory EncoderFactory, opts ...HostOption) *Host {
	h := &Host{
		b:         b,
		streams:   streams,
		factory:   factory,
		supports:  func(Codec) bool { return true },
		prefs:     Preferred,
		slice:     DefaultSlice,
		stopWait:  30 * time.Second,
		logger:    slog.Default(),
		pipelines: make(map[string]*Pipeline),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Open registers the encoder handler and posts Hello. It returns
// bridge.ErrContextExists when already open.
func (h *Host) Open(ctx context.Context) error {
	h.mu.Lock()
	if h.open {
		h.mu.Unlock()
		return bridge.ErrContextExists
	}
	h.open = true
	h.mu.Unlock()

	h.b.Router().Register(EncoderTarget, h.handle)
	h.b.Post(bridge.Hello{Origin: EncoderTarget})
	return nil
}

// Close unregisters the handler. Running pipelines are stopped.
func (h *Host) Close(ctx context.Context) {
	h.b.Router().Unregister(EncoderTarget)
	h.b.ForgetContext(EncoderTarget)

	h.mu.Lock()
	pipes := h.pipelines
	h.pipelines = make(map[string]*Pipeline)
	h.open = false
	h.mu.Unlock()

	for _, p := range pipes {
		_, _ = p.Stop(ctx)
	}
}

func (h *Host) handle(ctx context.Context, msg bridge.Message) (bridge.Message, error) {
	switch m := msg.(type) {
	case bridge.StartEncoding:
		if err := h.start(ctx, m.StreamID); err != nil {
			h.remoteLog("error", err.Error())
			return bridge.Ack{OK: false, Err: err.Error()}, nil
		}
		return bridge.Ack{OK: true}, nil
	case bridge.StopEncoding:
		// The reply only acknowledges the command; the result arrives later
		// as a Saved signal.
		if !h.stop(m.StreamID) {
			return bridge.Ack{OK: false, Err: "no active recording"}, nil
		}
		return bridge.Ack{OK: true}, nil
	case bridge.Probe:
		h.mu.Lock()
		n := len(h.pipelines)
		h.mu.Unlock()
		return bridge.Status{Armed: n > 0}, nil
	default:
		return nil, fmt.Errorf("media: encoder: unexpected message %s", msg.Kind())
	}
}

func (h *Host) start(ctx context.Context, streamID string) error {
	stream, ok := h.streams.Get(streamID)
	if !ok {
		return fmt.Errorf("media: encoder: unknown stream %q", streamID)
	}
	codec, err := Choose(h.prefs, PlatformDef, h.supports)
	if err != nil {
		return err
	}
	// The pipeline outlives the command that started it.
	p, err := StartPipeline(context.WithoutCancel(ctx), stream, codec, h.factory,
		WithSlice(h.slice), WithPipelineLogger(h.logger))
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.pipelines[streamID] = p
	h.mu.Unlock()
	h.remoteLog("info", fmt.Sprintf("recording started with %s", codec))
	return nil
}

// stop detaches the pipeline for streamID (any pipeline when empty) and
// finishes it in the background.
func (h *Host) stop(streamID string) bool {
	h.mu.Lock()
	var p *Pipeline
	if streamID != "" {
		p = h.pipelines[streamID]
	} else {
		for id, cand := range h.pipelines {
			p, streamID = cand, id
			break
		}
	}
	delete(h.pipelines, streamID)
	h.mu.Unlock()
	if p == nil {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.stopWait)
		defer cancel()
		res, err := p.Stop(ctx)
		h.streams.Remove(streamID)

		saved := bridge.Saved{StreamID: streamID, MimeType: res.MimeType, Video: res.Video}
		if err != nil {
			saved.Err = err.Error()
			h.remoteLog("error", "recording failed: "+err.Error())
		}
		if len(res.Video) == 0 {
			h.remoteLog("error", "recording produced an empty video")
		} else {
			h.remoteLog("info", fmt.Sprintf("recording saved: %d bytes in %d slices", len(res.Video), res.Slices))
		}
		// Sent on every path so the orchestrator never waits for nothing.
		h.b.Post(saved)
	}()
	return true
}

func (h *Host) remoteLog(level, text string) {
	h.b.Post(bridge.LogLine{Origin: EncoderTarget, Level: level, Text: text})
}
