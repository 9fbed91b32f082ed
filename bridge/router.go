package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Handler runs inside a target context. It runs to completion and returns the
// optional reply (nil for fire-and-forget commands).
type Handler func(ctx context.Context, msg Message) (Message, error)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first one is outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Router dispatches messages to the handler registered for a target.
// Targets come and go as contexts are opened, navigated away or closed.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	mw       HandlerMiddleware
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every registered handler.
func WithMiddleware(mws ...HandlerMiddleware) RouterOption {
	return func(r *Router) { r.mw = Chain(mws...) }
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs (or replaces) the handler for target.
func (r *Router) Register(target string, h Handler) {
	if r.mw != nil {
		h = r.mw(h)
	}
	r.mu.Lock()
	r.handlers[target] = h
	r.mu.Unlock()
	r.logger.Debug("bridge: handler registered", "target", target)
}

// Unregister removes the handler for target. Subsequent sends fail with
// ErrUnreachable until a new handler registers.
func (r *Router) Unregister(target string) {
	r.mu.Lock()
	delete(r.handlers, target)
	r.mu.Unlock()
	r.logger.Debug("bridge: handler unregistered", "target", target)
}

// Has reports whether a handler is registered for target.
func (r *Router) Has(target string) bool {
	r.mu.RLock()
	_, ok := r.handlers[target]
	r.mu.RUnlock()
	return ok
}

// Send delivers msg to target and returns its reply.
func (r *Router) Send(ctx context.Context, target string, msg Message) (Message, error) {
	r.mu.RLock()
	h := r.handlers[target]
	r.mu.RUnlock()
	if h == nil {
		return nil, &UnreachableError{Target: target}
	}
	r.logger.DebugContext(ctx, "bridge: send", "target", target, "type", msg.Kind())
	return h(ctx, msg)
}

// Logging logs every handled message with its duration.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (Message, error) {
			start := time.Now()
			reply, err := next(ctx, msg)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "bridge: handler failed",
					"type", msg.Kind(), "duration_ms", dur.Milliseconds(), "error", err)
			} else {
				logger.DebugContext(ctx, "bridge: handled",
					"type", msg.Kind(), "duration_ms", dur.Milliseconds())
			}
			return reply, err
		}
	}
}

// Recovery converts handler panics into errors.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (reply Message, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "bridge: handler panic recovered",
						"type", msg.Kind(), "panic", v, "stack", string(debug.Stack()))
					err = fmt.Errorf("bridge: handler panic: %v", v)
				}
			}()
			return next(ctx, msg)
		}
	}
}
