// Package agent connects recorded browser surfaces to the bridge. It opens
// tabs through rod, captures them with the DevTools screencast (or the whole
// screen through ffmpeg), and injects the pointer agent that answers
// StartPointer, StopPointer and Probe for its surface.
//
// The injected script reports raw pointer events through a runtime binding;
// sampling, move coalescing and timestamps happen on the Go side in a
// pointer.Recorder owned by the agent.
package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/bridge"
	"github.com/hazyhaar/malu/pointer"
)

// BindingName is the page function the injected script reports through.
const BindingName = "__malu_pointer"

// DefaultFlushInterval approximates one animation frame.
const DefaultFlushInterval = 16 * time.Millisecond

//go:embed pointer.js
var pointerJS string

//go:embed geometry.js
var geometryJS string

// Surface is a recorded page as the agent sees it.
type Surface interface {
	ID() string
	// Geometry probes the viewport, window and screen dimensions.
	Geometry(ctx context.Context) (*artifact.Geometry, error)
}

// pointerEvent is one binding payload.
type pointerEvent struct {
	Type    string   `json:"type"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	ScreenX *float64 `json:"screenX"`
	ScreenY *float64 `json:"screenY"`
}

// PointerAgent is the bridge handler of one surface.
type PointerAgent struct {
	id      string
	surface Surface
	rec     *pointer.Recorder
	flush   time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	hints  *artifact.Geometry
	cancel context.CancelFunc
}

// AgentOption configures a PointerAgent.
type AgentOption func(*PointerAgent)

// WithFlushInterval sets how often buffered moves are committed.
func WithFlushInterval(d time.Duration) AgentOption {
	return func(a *PointerAgent) { a.flush = d }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *PointerAgent) { a.logger = l }
}

// WithRecorderClock sets the recorder time source.
func WithRecorderClock(c pointer.Clock) AgentOption {
	return func(a *PointerAgent) { a.rec = pointer.NewRecorder(pointer.WithClock(c)) }
}

// NewPointerAgent creates a disarmed agent for the surface with the given id.
// The surface itself is bound with Bind once the page is instrumented.
func NewPointerAgent(id string, opts ...AgentOption) *PointerAgent {
	a := &PointerAgent{
		id:     id,
		rec:    pointer.NewRecorder(),
		flush:  DefaultFlushInterval,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Bind attaches the surface used for geometry probes.
func (a *PointerAgent) Bind(s Surface) {
	a.mu.Lock()
	a.surface = s
	a.mu.Unlock()
}

// HandleBinding feeds one payload from the page into the recorder.
func (a *PointerAgent) HandleBinding(payload string) error {
	var ev pointerEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("agent: parse pointer payload: %w", err)
	}
	pe := pointer.Event{X: ev.X, Y: ev.Y, ScreenX: ev.ScreenX, ScreenY: ev.ScreenY}
	switch ev.Type {
	case "move":
		a.rec.HandleMove(pe)
	case "click":
		a.rec.HandleClick(pe)
	default:
		return fmt.Errorf("agent: unknown pointer event %q", ev.Type)
	}
	return nil
}

// Handle answers bridge commands addressed to the surface.
func (a *PointerAgent) Handle(ctx context.Context, msg bridge.Message) (bridge.Message, error) {
	switch m := msg.(type) {
	case bridge.Probe:
		return bridge.Status{Armed: a.rec.Armed(), Geometry: a.geometry(ctx)}, nil

	case bridge.StartPointer:
		a.mu.Lock()
		a.hints = m.Hints
		if a.cancel != nil {
			a.cancel()
		}
		a.rec.Start()
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.cancel = cancel
		a.mu.Unlock()
		go a.rec.Run(runCtx, a.flush)
		a.logger.InfoContext(ctx, "agent: pointer armed", "surface", a.id)
		return bridge.Ack{OK: true}, nil

	case bridge.StopPointer:
		a.stopLoop()
		samples := a.rec.Stop()
		g := a.geometry(ctx)
		a.logger.InfoContext(ctx, "agent: pointer disarmed", "surface", a.id, "samples", len(samples))
		return bridge.PointerTrace{Samples: samples, Geometry: g}, nil
	}
	return nil, fmt.Errorf("agent: %s: unexpected %s", a.id, msg.Kind())
}

// Close stops the flush loop.
func (a *PointerAgent) Close() {
	a.stopLoop()
}

func (a *PointerAgent) stopLoop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()
}

// geometry probes the surface, falling back to the hints sent with
// StartPointer.
func (a *PointerAgent) geometry(ctx context.Context) *artifact.Geometry {
	a.mu.Lock()
	s, hints := a.surface, a.hints
	a.mu.Unlock()
	if s == nil {
		return hints
	}
	g, err := s.Geometry(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "agent: geometry probe failed", "surface", a.id, "error", err)
		return hints
	}
	return g
}
