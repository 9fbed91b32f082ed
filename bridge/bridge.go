// Package bridge delivers commands across isolated execution contexts (the
// orchestrator, the encoder context, agents injected into recorded surfaces).
//
// Contexts share no memory: they exchange tagged Messages through a Router,
// where each context registers a Handler under its target name. A target that
// is not listening yet is made reachable by injecting its agent, then polled
// with a bounded fixed-interval retry until the agent's handler answers.
//
//	b := bridge.New(router, bridge.WithInjector(inj))
//	reply, err := b.Deliver(ctx, tabID, bridge.StartPointer{SurfaceID: tabID})
//	if errors.Is(err, bridge.ErrHandshakeTimeout) { ... }
//
// Contexts also post unsolicited signals (Hello, LogLine, Saved) with Post;
// the orchestrator waits for them with WaitForSignal.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/malu/retry"
)

// Handshake defaults: 20 polls every 50ms, about one second in total.
const (
	DefaultHandshakeAttempts = 20
	DefaultHandshakeInterval = 50 * time.Millisecond
)

// maxMailbox bounds the unclaimed signals kept per kind.
const maxMailbox = 16

// Injector makes a target reachable, typically by injecting an agent script
// that registers a Handler on the router once loaded.
type Injector interface {
	Inject(ctx context.Context, target string) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, target string) error

func (f InjectorFunc) Inject(ctx context.Context, target string) error { return f(ctx, target) }

// Bridge is safe for concurrent use.
type Bridge struct {
	router   *Router
	injector Injector
	policy   retry.Policy
	logger   *slog.Logger

	mu       sync.Mutex
	mailbox  map[Kind][]Message
	waiters  map[Kind][]chan Message
	ready    map[string]bool
	contexts map[string]bool
	ctxLock  map[string]*sync.Mutex
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithInjector sets the injector used by Deliver.
func WithInjector(inj Injector) Option {
	return func(b *Bridge) { b.injector = inj }
}

// WithHandshake overrides the post-injection polling budget.
func WithHandshake(attempts int, interval time.Duration) Option {
	return func(b *Bridge) {
		b.policy.Attempts = attempts
		b.policy.Interval = interval
	}
}

// New creates a Bridge over router.
func New(router *Router, opts ...Option) *Bridge {
	b := &Bridge{
		router: router,
		policy: retry.Policy{
			Attempts: DefaultHandshakeAttempts,
			Interval: DefaultHandshakeInterval,
			Name:     "handshake",
		},
		logger:   slog.Default(),
		mailbox:  make(map[Kind][]Message),
		waiters:  make(map[Kind][]chan Message),
		ready:    make(map[string]bool),
		contexts: make(map[string]bool),
		ctxLock:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(b)
	}
	b.policy.Logger = b.logger
	return b
}

// Router returns the underlying router so contexts can register handlers.
func (b *Bridge) Router() *Router { return b.router }

// Send delivers msg to target without injection or retry.
func (b *Bridge) Send(ctx context.Context, target string, msg Message) (Message, error) {
	return b.router.Send(ctx, target, msg)
}

// Deliver sends msg to target. If the target is unreachable, the agent is
// injected and the send is retried every Interval up to Attempts times. When
// the budget runs out, Deliver returns a *HandshakeTimeoutError. Errors
// returned by a reachable handler are not retried.
func (b *Bridge) Deliver(ctx context.Context, target string, msg Message) (Message, error) {
	reply, err := b.router.Send(ctx, target, msg)
	if err == nil || !errors.Is(err, ErrUnreachable) {
		return reply, err
	}

	if b.injector == nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "bridge: target unreachable, injecting agent",
		"target", target, "type", msg.Kind())
	if err := b.injector.Inject(ctx, target); err != nil {
		// The agent may already be present from an earlier injection; keep
		// polling in that case.
		b.logger.WarnContext(ctx, "bridge: inject failed", "target", target, "error", err)
	}

	p := b.policy
	p.Name = "handshake " + target
	err = retry.Do(ctx, p, func(ctx context.Context) error {
		r, err := b.router.Send(ctx, target, msg)
		if err != nil {
			if errors.Is(err, ErrUnreachable) {
				return err
			}
			return retry.Permanent(err)
		}
		reply = r
		return nil
	})
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, retry.ErrExhausted):
		return nil, &HandshakeTimeoutError{Target: target, Attempts: p.Attempts}
	default:
		return nil, err
	}
}

// Request runs Deliver in the background and returns its future.
func (b *Bridge) Request(ctx context.Context, target string, msg Message) *Future {
	f := newFuture()
	go func() {
		f.resolve(b.Deliver(ctx, target, msg))
	}()
	return f
}

// EnsureContext opens the named secondary context once. Concurrent callers
// for the same name are serialized; a factory returning ErrContextExists
// counts as success.
func (b *Bridge) EnsureContext(ctx context.Context, name string, create func(ctx context.Context) error) error {
	b.mu.Lock()
	lock, ok := b.ctxLock[name]
	if !ok {
		lock = &sync.Mutex{}
		b.ctxLock[name] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	open := b.contexts[name]
	b.mu.Unlock()
	if open {
		return nil
	}

	if err := create(ctx); err != nil && !errors.Is(err, ErrContextExists) {
		return fmt.Errorf("bridge: ensure context %s: %w", name, err)
	}

	b.mu.Lock()
	b.contexts[name] = true
	b.mu.Unlock()
	b.logger.InfoContext(ctx, "bridge: context ready", "context", name)
	return nil
}

// ForgetContext marks a secondary context as closed.
func (b *Bridge) ForgetContext(name string) {
	b.mu.Lock()
	delete(b.contexts, name)
	delete(b.ready, name)
	b.mu.Unlock()
}

// Post receives an unsolicited signal from a context. LogLine messages are
// re-emitted through the bridge logger and not queued. Hello marks the
// origin ready. Every other signal wakes the oldest waiter for its kind, or
// is queued until someone waits for it.
func (b *Bridge) Post(msg Message) {
	switch m := msg.(type) {
	case LogLine:
		b.logger.Log(context.Background(), parseLevel(m.Level), "bridge: remote log: "+m.Text, "origin", m.Origin)
		return
	case Hello:
		b.mu.Lock()
		b.ready[m.Origin] = true
		b.mu.Unlock()
		b.logger.Info("bridge: handshake", "origin", m.Origin)
	}

	kind := msg.Kind()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ws := b.waiters[kind]; len(ws) > 0 {
		ch := ws[0]
		b.waiters[kind] = ws[1:]
		ch <- msg
		return
	}
	q := append(b.mailbox[kind], msg)
	if len(q) > maxMailbox {
		q = q[len(q)-maxMailbox:]
	}
	b.mailbox[kind] = q
}

// Ready reports whether origin has posted Hello.
func (b *Bridge) Ready(origin string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready[origin]
}

// Discard drops queued signals of kind, so a new session does not consume a
// confirmation left over from a previous one.
func (b *Bridge) Discard(kind Kind) {
	b.mu.Lock()
	delete(b.mailbox, kind)
	b.mu.Unlock()
}

// WaitForSignal returns the next signal of kind. It reports false when the
// timeout elapses or ctx ends first; it never fails.
func (b *Bridge) WaitForSignal(ctx context.Context, kind Kind, timeout time.Duration) (Message, bool) {
	ch := make(chan Message, 1)

	b.mu.Lock()
	if q := b.mailbox[kind]; len(q) > 0 {
		msg := q[0]
		b.mailbox[kind] = q[1:]
		b.mu.Unlock()
		return msg, true
	}
	b.waiters[kind] = append(b.waiters[kind], ch)
	b.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case msg := <-ch:
		return msg, true
	case <-t.C:
	case <-ctx.Done():
	}

	// Withdraw the waiter. A Post may have raced us and already filled ch.
	b.mu.Lock()
	ws := b.waiters[kind]
	for i, w := range ws {
		if w == ch {
			b.waiters[kind] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	select {
	case msg := <-ch:
		return msg, true
	default:
		return nil, false
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
