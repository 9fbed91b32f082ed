package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable means no handler currently listens on the target.
	ErrUnreachable = errors.New("bridge: target unreachable")
	// ErrHandshakeTimeout means the target never answered after injection.
	ErrHandshakeTimeout = errors.New("bridge: handshake timeout")
	// ErrContextExists is returned by context factories when the context is
	// already open. EnsureContext treats it as success.
	ErrContextExists = errors.New("bridge: context already exists")
)

// UnreachableError is returned by Send when no handler is registered for
// Target.
type UnreachableError struct {
	Target string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("bridge: target unreachable: %s", e.Target)
}

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

// HandshakeTimeoutError is returned by Deliver when the injected agent did
// not answer within the retry budget.
type HandshakeTimeoutError struct {
	Target   string
	Attempts int
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("bridge: handshake timeout: %s after %d attempts", e.Target, e.Attempts)
}

func (e *HandshakeTimeoutError) Is(target error) bool { return target == ErrHandshakeTimeout }

// RemoteError is an error reported by the handler on the other side.
type RemoteError struct {
	Target string
	Kind   Kind
	Cause  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s on %s: %v", e.Kind, e.Target, e.Cause)
}

func (e *RemoteError) Unwrap() error { return e.Cause }
