package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/malu/bridge"
)

// Attacher instruments a surface: it installs the pointer script and the
// runtime binding, then forwards every binding payload to onEvent. onDetach
// runs once if the surface goes away on its own.
type Attacher interface {
	Attach(ctx context.Context, surfaceID string, onEvent func(payload string), onDetach func()) (Surface, error)
}

// Injector makes surfaces reachable on the bridge. It implements
// bridge.Injector: Inject instruments the surface, registers the agent's
// handler under the surface id and posts Hello.
type Injector struct {
	bridge   *bridge.Bridge
	attacher Attacher
	agentOps []AgentOption
	logger   *slog.Logger

	mu     sync.Mutex
	agents map[string]*PointerAgent
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithAgentOptions applies opts to every agent the injector creates.
func WithAgentOptions(opts ...AgentOption) InjectorOption {
	return func(i *Injector) { i.agentOps = append(i.agentOps, opts...) }
}

// WithInjectorLogger sets the logger.
func WithInjectorLogger(l *slog.Logger) InjectorOption {
	return func(i *Injector) { i.logger = l }
}

// NewInjector creates an injector. Pass it to bridge.WithInjector; Bind
// hands it the bridge once both exist.
func NewInjector(att Attacher, opts ...InjectorOption) *Injector {
	i := &Injector{
		attacher: att,
		logger:   slog.Default(),
		agents:   make(map[string]*PointerAgent),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Bind sets the bridge agents register on.
func (i *Injector) Bind(b *bridge.Bridge) {
	i.mu.Lock()
	i.bridge = b
	i.mu.Unlock()
}

// Inject instruments target. Injecting an already instrumented surface only
// re-registers its handler.
func (i *Injector) Inject(ctx context.Context, target string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.bridge == nil {
		return fmt.Errorf("agent: inject %s: no bridge bound", target)
	}
	if ag, ok := i.agents[target]; ok {
		i.bridge.Router().Register(target, ag.Handle)
		return nil
	}

	ag := NewPointerAgent(target, append([]AgentOption{WithAgentLogger(i.logger)}, i.agentOps...)...)
	surface, err := i.attacher.Attach(ctx, target, func(payload string) {
		if err := ag.HandleBinding(payload); err != nil {
			i.logger.Debug("agent: drop pointer payload", "surface", target, "error", err)
		}
	}, func() { i.Forget(target) })
	if err != nil {
		return fmt.Errorf("agent: inject %s: %w", target, err)
	}
	ag.Bind(surface)

	i.agents[target] = ag
	i.bridge.Router().Register(target, ag.Handle)
	i.bridge.Post(bridge.Hello{Origin: target})
	i.logger.InfoContext(ctx, "agent: injected", "surface", target)
	return nil
}

// Forget drops the agent of target; the surface becomes unreachable until
// the next injection.
func (i *Injector) Forget(target string) {
	i.mu.Lock()
	ag, ok := i.agents[target]
	delete(i.agents, target)
	b := i.bridge
	i.mu.Unlock()
	if !ok {
		return
	}
	ag.Close()
	if b != nil {
		b.Router().Unregister(target)
		b.ForgetContext(target)
	}
	i.logger.Info("agent: surface detached", "surface", target)
}

// Agents returns the instrumented surface ids.
func (i *Injector) Agents() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.agents))
	for id := range i.agents {
		out = append(out, id)
	}
	return out
}
