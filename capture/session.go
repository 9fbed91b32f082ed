// Package capture runs a recording session: source selection, recording
// across the encoder context and the pointer agent, and a single idempotent
// finalize that persists the artifact.
//
// Idle → SourceSelecting → SourceReady → Recording → Finalizing → Saved|Error
//
// Stop and an external end of the capture stream share one finalize; later
// or concurrent triggers wait for the same outcome, and the artifact is
// written at most once.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/bridge"
	"github.com/hazyhaar/malu/media"
	"github.com/hazyhaar/malu/store"
)

// DefaultSaveWait bounds the wait for the encoder's save confirmation.
const DefaultSaveWait = 5 * time.Second

// DefaultLateSaveWait bounds how long a confirmation that missed SaveWait is
// still accepted.
const DefaultLateSaveWait = 30 * time.Second

// Status is the session state.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusSourceSelecting Status = "source_selecting"
	StatusSourceReady     Status = "source_ready"
	StatusRecording       Status = "recording"
	StatusFinalizing      Status = "finalizing"
	StatusSaved           Status = "saved"
	StatusError           Status = "error"
)

// SourceKind selects what is captured.
type SourceKind string

const (
	SourceTab    SourceKind = "tab"
	SourceScreen SourceKind = "screen"
)

// Source describes the capture request.
type Source struct {
	Kind SourceKind `json:"kind"`
	// SurfaceID is the surface the pointer agent runs in. It is also the
	// bridge target of that agent. Empty disables pointer recording.
	SurfaceID string `json:"surfaceId,omitempty"`
	// Display is platform specific, e.g. an X11 display for screen grabs.
	Display string `json:"display,omitempty"`
}

// Platform provides permissioned capture streams and surface focus.
type Platform interface {
	// RequestStream returns an error wrapping ErrPermissionDenied when the
	// user declines.
	RequestStream(ctx context.Context, src Source) (media.Stream, error)
	ActivateSurface(ctx context.Context, surfaceID string) error
}

// Store is the persistence the session needs.
type Store interface {
	SaveArtifact(ctx context.Context, a *artifact.Artifact) error
	// SaveTrace stores the metadata and clears any previous video.
	SaveTrace(ctx context.Context, md artifact.Metadata) error
	AppendEvent(ctx context.Context, e store.Event) error
}

// Config wires a Session.
type Config struct {
	Bridge   *bridge.Bridge
	Platform Platform
	Streams  *media.Registry
	Store    Store
	// OpenEncoder creates the encoder context. It may return
	// bridge.ErrContextExists.
	OpenEncoder func(ctx context.Context) error
	SaveWait    time.Duration
	// LateSaveWait is how long a video confirmed after SaveWait is still
	// persisted, unless another source is selected first.
	LateSaveWait time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Result is the outcome of a finalize.
type Result struct {
	SessionID  string   `json:"sessionId"`
	Status     Status   `json:"status"`
	VideoBytes int      `json:"videoBytes"`
	MimeType   string   `json:"mimeType,omitempty"`
	Samples    int      `json:"samples"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	SessionID   string   `json:"sessionId,omitempty"`
	Status      Status   `json:"status"`
	Source      *Source  `json:"source,omitempty"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	StartedAtMs int64    `json:"startedAtMs,omitempty"`
}

type lateSave struct {
	cancel context.CancelFunc
}

type finalization struct {
	done chan struct{}
	res  Result
	err  error
}

// Session is safe for concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	id        string
	status    Status
	errMsg    string
	warnings  []string
	source    *Source
	stream    media.Stream
	startedAt time.Time
	fin       *finalization
	late      *lateSave
}

// New creates an idle session.
func New(cfg Config) *Session {
	if cfg.SaveWait <= 0 {
		cfg.SaveWait = DefaultSaveWait
	}
	if cfg.LateSaveWait <= 0 {
		cfg.LateSaveWait = DefaultLateSaveWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Streams == nil {
		cfg.Streams = media.NewRegistry()
	}
	return &Session{cfg: cfg, logger: cfg.Logger, status: StatusIdle}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID: s.id,
		Status:    s.status,
		Error:     s.errMsg,
		Warnings:  append([]string(nil), s.warnings...),
	}
	if s.source != nil {
		src := *s.source
		snap.Source = &src
	}
	if !s.startedAt.IsZero() {
		snap.StartedAtMs = s.startedAt.UnixMilli()
	}
	return snap
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SelectSource asks the platform for a capture stream. A declined prompt
// returns the session to Idle and the error wraps ErrPermissionDenied; any
// other failure moves it to Error.
func (s *Session) SelectSource(ctx context.Context, src Source) error {
	s.mu.Lock()
	switch s.status {
	case StatusIdle, StatusSaved, StatusError:
	default:
		st := s.status
		s.mu.Unlock()
		return &StateError{Op: "select source", Status: st}
	}
	s.dropLateLocked()
	s.id = newSessionID()
	s.errMsg = ""
	s.warnings = nil
	s.fin = nil
	s.stream = nil
	s.startedAt = time.Time{}
	s.source = &src
	s.setLocked(ctx, StatusSourceSelecting, string(src.Kind))
	s.mu.Unlock()

	stream, err := s.cfg.Platform.RequestStream(ctx, src)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.logger.InfoContext(ctx, "capture: source selection declined", "session", s.id)
			s.setLocked(ctx, StatusIdle, "permission declined")
			return err
		}
		s.errMsg = err.Error()
		s.setLocked(ctx, StatusError, "select source")
		return fmt.Errorf("capture: select source: %w", err)
	}
	s.stream = stream
	s.setLocked(ctx, StatusSourceReady, stream.ID())
	go s.watchStream(stream)
	return nil
}

// Start focuses the target surface, starts encoding in the encoder context
// and arms the pointer agent. A pointer handshake timeout is recorded as a
// warning; the recording proceeds without a trace.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusSourceReady || s.stream == nil {
		st := s.status
		s.mu.Unlock()
		return &StateError{Op: "start", Status: st}
	}
	stream, src, id := s.stream, *s.source, s.id
	s.mu.Unlock()
	log := s.logger.With("session", id)

	if src.SurfaceID != "" {
		if err := s.cfg.Platform.ActivateSurface(ctx, src.SurfaceID); err != nil {
			return s.failStart(ctx, stream, fmt.Errorf("capture: activate surface: %w", err))
		}
	}
	if err := s.cfg.Bridge.EnsureContext(ctx, media.EncoderTarget, s.cfg.OpenEncoder); err != nil {
		return s.failStart(ctx, stream, fmt.Errorf("capture: encoder context: %w", err))
	}
	if _, ok := s.cfg.Streams.Get(stream.ID()); !ok {
		if err := s.cfg.Streams.Add(stream); err != nil {
			return s.failStart(ctx, stream, fmt.Errorf("capture: %w", err))
		}
	}
	s.cfg.Bridge.Discard(bridge.KindSaved)

	reply, err := s.cfg.Bridge.Deliver(ctx, media.EncoderTarget, bridge.StartEncoding{StreamID: stream.ID()})
	if err == nil {
		err = ackError(reply)
	}
	if err != nil {
		s.cfg.Streams.Remove(stream.ID())
		return s.failStart(ctx, stream, fmt.Errorf("capture: start encoding: %w", err))
	}

	var warning string
	if src.SurfaceID != "" {
		reply, err := s.cfg.Bridge.Deliver(ctx, src.SurfaceID, bridge.StartPointer{SurfaceID: src.SurfaceID})
		if err == nil {
			err = ackError(reply)
		}
		if err != nil {
			warning = "pointer: " + err.Error()
			log.WarnContext(ctx, "capture: pointer recorder not armed", "surface", src.SurfaceID, "error", err)
		}
	}

	s.mu.Lock()
	if s.stream != stream || s.status != StatusSourceReady {
		st := s.status
		s.mu.Unlock()
		// The source went away while starting.
		_, _ = s.cfg.Bridge.Send(context.WithoutCancel(ctx), media.EncoderTarget, bridge.StopEncoding{StreamID: stream.ID()})
		return &StateError{Op: "start", Status: st}
	}
	if warning != "" {
		s.warnings = append(s.warnings, warning)
	}
	s.startedAt = s.cfg.Now()
	s.setLocked(ctx, StatusRecording, stream.ID())
	s.mu.Unlock()
	return nil
}

func (s *Session) failStart(ctx context.Context, stream media.Stream, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == stream && s.status == StatusSourceReady {
		s.stream = nil
		stream.Stop()
		s.errMsg = err.Error()
		s.setLocked(ctx, StatusError, "start")
	}
	s.logger.ErrorContext(ctx, "capture: start failed", "session", s.id, "error", err)
	return err
}

// Stop finalizes the recording. It may be called any number of times, also
// after the stream ended on its own; every call returns the same outcome.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	return s.finalize(ctx, "stop")
}

// ChangeSource releases a selected stream and returns to Idle. From Saved
// or Error it clears the outcome.
func (s *Session) ChangeSource(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusIdle:
		return nil
	case StatusSourceReady:
		s.releaseLocked()
	case StatusSaved, StatusError:
	default:
		return &StateError{Op: "change source", Status: s.status}
	}
	s.errMsg = ""
	s.warnings = nil
	s.source = nil
	s.setLocked(ctx, StatusIdle, "change source")
	return nil
}

// Close finalizes a running recording and releases a selected stream.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.dropLateLocked()
	s.mu.Unlock()
	switch s.Status() {
	case StatusRecording, StatusFinalizing:
		_, err := s.finalize(ctx, "shutdown")
		return err
	case StatusSourceReady:
		return s.ChangeSource(ctx)
	}
	return nil
}

func (s *Session) releaseLocked() {
	if s.stream == nil {
		return
	}
	st := s.stream
	s.stream = nil
	s.cfg.Streams.Remove(st.ID())
	st.Stop()
}

// watchStream reacts to the capture stream ending outside of our control.
func (s *Session) watchStream(stream media.Stream) {
	<-stream.Done()

	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return
	}
	switch s.status {
	case StatusRecording:
		s.mu.Unlock()
		s.logger.Info("capture: stream ended during recording", "stream", stream.ID())
		_, _ = s.finalize(context.Background(), "stream ended")
		return
	case StatusSourceReady:
		s.releaseLocked()
		s.source = nil
		s.setLocked(context.Background(), StatusIdle, "stream ended")
	}
	s.mu.Unlock()
}

// finalize starts the finalize sequence once and waits for it. ctx only
// bounds the wait; the sequence itself always runs to completion.
func (s *Session) finalize(ctx context.Context, trigger string) (Result, error) {
	s.mu.Lock()
	f := s.fin
	if f == nil {
		if s.status != StatusRecording {
			st := s.status
			s.mu.Unlock()
			return Result{}, &StateError{Op: trigger, Status: st}
		}
		f = &finalization{done: make(chan struct{})}
		s.fin = f
		s.setLocked(ctx, StatusFinalizing, trigger)
		stream, src, id := s.stream, *s.source, s.id
		go func() {
			f.res, f.err = s.runFinalize(stream, src, id)
			close(f.done)
		}()
	}
	s.mu.Unlock()

	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) runFinalize(stream media.Stream, src Source, id string) (Result, error) {
	ctx := context.Background()
	log := s.logger.With("session", id)
	log.Info("capture: finalize started", "stream", stream.ID())

	var warnings []string
	warn := func(err error) {
		warnings = append(warnings, err.Error())
		log.Warn("capture: finalize warning", "error", err)
	}

	reply, err := s.cfg.Bridge.Deliver(ctx, media.EncoderTarget, bridge.StopEncoding{StreamID: stream.ID()})
	if err == nil {
		err = ackError(reply)
	}
	if err != nil {
		warn(fmt.Errorf("capture: stop encoding: %w", err))
	}

	var md artifact.Metadata
	if src.SurfaceID != "" {
		reply, err := s.cfg.Bridge.Deliver(ctx, src.SurfaceID, bridge.StopPointer{SurfaceID: src.SurfaceID})
		switch tr, ok := reply.(bridge.PointerTrace); {
		case err != nil:
			warn(fmt.Errorf("capture: pointer trace: %w", err))
		case !ok:
			warn(fmt.Errorf("capture: pointer trace: unexpected reply %T", reply))
		default:
			md.Samples = tr.Samples
			md.Geometry = tr.Geometry
		}
	}

	res := Result{SessionID: id, Samples: len(md.Samples)}
	var finalErr error
	saved, ok := s.awaitSaved(ctx, stream.ID(), s.cfg.SaveWait)
	switch {
	case !ok:
		warn(ErrSaveTimeout)
		if err := s.cfg.Store.SaveTrace(ctx, md); err != nil {
			warn(fmt.Errorf("%w: %v", ErrSaveFailure, err))
		}
	case len(saved.Video) == 0:
		finalErr = ErrEmptyArtifact
		if saved.Err != "" {
			finalErr = fmt.Errorf("%w: %s", ErrEmptyArtifact, saved.Err)
		}
		log.Error("capture: empty artifact", "error", finalErr)
	default:
		if saved.Err != "" {
			warn(fmt.Errorf("capture: encoder: %s", saved.Err))
		}
		a := &artifact.Artifact{Video: saved.Video, MimeType: saved.MimeType, Metadata: md}
		if err := s.cfg.Store.SaveArtifact(ctx, a); err != nil {
			warn(fmt.Errorf("%w: %v", ErrSaveFailure, err))
		}
		res.VideoBytes = len(saved.Video)
		res.MimeType = saved.MimeType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == stream {
		s.releaseLocked()
	} else {
		stream.Stop()
		s.cfg.Streams.Remove(stream.ID())
	}
	s.warnings = append(s.warnings, warnings...)
	res.Warnings = append([]string(nil), s.warnings...)
	if finalErr != nil {
		s.errMsg = finalErr.Error()
		res.Error = s.errMsg
		s.setLocked(ctx, StatusError, "finalize")
	} else {
		s.setLocked(ctx, StatusSaved, fmt.Sprintf("%d bytes, %d samples", res.VideoBytes, res.Samples))
		if !ok {
			s.awaitLateLocked(stream.ID(), md, log)
		}
	}
	res.Status = s.status
	log.Info("capture: finalize done", "status", res.Status, "video_bytes", res.VideoBytes,
		"samples", res.Samples, "warnings", len(res.Warnings))
	return res, finalErr
}

// awaitLateLocked keeps listening for the confirmation of streamID after the
// bounded wait gave up. The video is persisted with md when it arrives and
// is dropped once another source is selected.
func (s *Session) awaitLateLocked(streamID string, md artifact.Metadata, log *slog.Logger) {
	s.dropLateLocked()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LateSaveWait)
	l := &lateSave{cancel: cancel}
	s.late = l

	go func() {
		defer cancel()
		saved, ok := s.awaitSaved(ctx, streamID, s.cfg.LateSaveWait)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.late != l {
			return
		}
		s.late = nil
		if !ok || len(saved.Video) == 0 {
			log.Info("capture: no late save confirmation", "stream", streamID)
			return
		}
		a := &artifact.Artifact{Video: saved.Video, MimeType: saved.MimeType, Metadata: md}
		if err := s.cfg.Store.SaveArtifact(context.Background(), a); err != nil {
			log.Warn("capture: late save failed", "stream", streamID, "error", err)
			return
		}
		log.Info("capture: late save persisted", "stream", streamID, "video_bytes", len(saved.Video))
	}()
}

func (s *Session) dropLateLocked() {
	if s.late == nil {
		return
	}
	s.late.cancel()
	s.late = nil
}

// awaitSaved waits up to wait for the save confirmation of streamID.
// Confirmations for other streams are skipped.
func (s *Session) awaitSaved(ctx context.Context, streamID string, wait time.Duration) (bridge.Saved, bool) {
	deadline := time.Now().Add(wait)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return bridge.Saved{}, false
		}
		msg, ok := s.cfg.Bridge.WaitForSignal(ctx, bridge.KindSaved, left)
		if !ok {
			return bridge.Saved{}, false
		}
		saved, _ := msg.(bridge.Saved)
		if saved.StreamID == "" || saved.StreamID == streamID {
			return saved, true
		}
		s.logger.Debug("capture: skipping stale save confirmation", "stream", saved.StreamID)
	}
}

// setLocked changes the status and journals the transition.
func (s *Session) setLocked(ctx context.Context, st Status, detail string) {
	s.status = st
	s.logger.InfoContext(ctx, "capture: status", "session", s.id, "status", string(st), "detail", detail)
	if s.cfg.Store == nil {
		return
	}
	ev := store.Event{
		SessionID: s.id,
		Timestamp: s.cfg.Now(),
		Status:    string(st),
		Detail:    detail,
	}
	if st == StatusError {
		ev.ErrorMessage = s.errMsg
	}
	if err := s.cfg.Store.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.WarnContext(ctx, "capture: journal failed", "session", s.id, "error", err)
	}
}

func ackError(reply bridge.Message) error {
	if ack, ok := reply.(bridge.Ack); ok && !ack.OK {
		return errors.New(ack.Err)
	}
	return nil
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
