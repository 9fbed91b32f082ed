// Package preview serves the camera preview of the latest recording over
// HTTP: the current composited frame, an MJPEG stream, the artifact
// metadata and playback controls. The artifact is reloaded when the store
// changes.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/export"
	"github.com/hazyhaar/malu/store"
)

// Loader returns the persisted recording.
type Loader interface {
	LoadArtifact(ctx context.Context) (*artifact.Artifact, error)
}

// Server is the preview HTTP surface.
type Server struct {
	player      *export.Player
	loader      Loader
	decoder     export.Decoder
	decodeFPS   int
	streamFPS   int
	jpegQuality int
	logger      *slog.Logger

	mu       sync.RWMutex
	md       artifact.Metadata
	mimeType string
	loadErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithDecodeFPS sets the frame rate recordings are decoded at.
func WithDecodeFPS(fps int) Option { return func(s *Server) { s.decodeFPS = fps } }

// WithStreamFPS caps the MJPEG frame rate.
func WithStreamFPS(fps int) Option { return func(s *Server) { s.streamFPS = fps } }

// WithJPEGQuality sets the MJPEG quality (1-100).
func WithJPEGQuality(q int) Option { return func(s *Server) { s.jpegQuality = q } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a preview server around player.
func New(player *export.Player, loader Loader, dec export.Decoder, opts ...Option) *Server {
	s := &Server{
		player:      player,
		loader:      loader,
		decoder:     dec,
		decodeFPS:   30,
		streamFPS:   30,
		jpegQuality: 80,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reload loads the latest artifact into the player.
func (s *Server) Reload(ctx context.Context) error {
	err := s.reload(ctx)
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
	if err != nil {
		s.logger.WarnContext(ctx, "preview: reload failed", "error", err)
	}
	return err
}

func (s *Server) reload(ctx context.Context) error {
	a, err := s.loader.LoadArtifact(ctx)
	if err != nil {
		return fmt.Errorf("preview: load: %w", err)
	}
	clip, err := s.decoder.Decode(ctx, a.Video, s.decodeFPS)
	if err != nil {
		return fmt.Errorf("preview: decode: %w", err)
	}
	s.player.Load(a.Metadata, clip)

	s.mu.Lock()
	s.md = a.Metadata
	s.mimeType = a.MimeType
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "preview: artifact loaded", "samples", len(a.Samples), "frames", len(clip.Frames))
	return nil
}

// Watch reloads whenever the store's recording changes, until ctx ends.
func (s *Server) Watch(ctx context.Context, w *store.Watcher) {
	w.OnChange(ctx, func() error {
		err := s.Reload(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(headToGet)
	r.Use(securityHeaders)
	r.Use(traceID(s.logger))

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/frame.png", s.handleFrame)
	r.Get("/stream", s.handleStream)
	r.Get("/metadata", s.handleMetadata)
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.player.State())
	})

	r.Route("/control", func(r chi.Router) {
		r.Post("/play", s.control(s.player.Play))
		r.Post("/pause", s.control(s.player.Pause))
		r.Post("/rewind", s.control(s.player.Rewind))
		r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
			if err := s.Reload(r.Context()); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, store.ErrNotFound) {
					status = http.StatusNotFound
				}
				writeError(w, status, err)
				return
			}
			writeJSON(w, http.StatusOK, s.player.State())
		})
	})
	return r
}

func (s *Server) control(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		requestLogger(r.Context()).Info("preview: control", "playing", s.player.State().Playing)
		writeJSON(w, http.StatusOK, s.player.State())
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	img, _ := s.player.Frame()
	if img == nil {
		s.notLoaded(w)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		requestLogger(r.Context()).Warn("preview: png encode failed", "error", err)
	}
}

// handleStream writes frames as multipart/x-mixed-replace JPEG parts while
// the client stays connected. A part is sent only when a new frame was
// drawn.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if img, _ := s.player.Frame(); img == nil {
		s.notLoaded(w)
		return
	}
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	log := requestLogger(r.Context())

	interval := time.Second / time.Duration(max(s.streamFPS, 1))
	tk := time.NewTicker(interval)
	defer tk.Stop()

	var lastSeq uint64
	for {
		if img, st := s.player.Frame(); img != nil && st.Seq != lastSeq {
			lastSeq = st.Seq
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			if err := jpeg.Encode(part, img, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
				log.Debug("preview: stream ended", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
		select {
		case <-r.Context().Done():
			return
		case <-tk.C:
		}
	}
}

type metadataResponse struct {
	MimeType string             `json:"mimeType,omitempty"`
	Samples  []artifact.Sample  `json:"samples"`
	Geometry *artifact.Geometry `json:"geometryContext,omitempty"`
	Player   export.PlayerState `json:"player"`
	Error    string             `json:"error,omitempty"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := metadataResponse{
		MimeType: s.mimeType,
		Samples:  s.md.Samples,
		Geometry: s.md.Geometry,
		Player:   s.player.State(),
	}
	if s.loadErr != nil {
		resp.Error = s.loadErr.Error()
	}
	s.mu.RUnlock()
	if resp.Samples == nil {
		resp.Samples = []artifact.Sample{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) notLoaded(w http.ResponseWriter) {
	s.mu.RLock()
	err := s.loadErr
	s.mu.RUnlock()
	if err == nil {
		err = errors.New("no recording loaded")
	}
	writeError(w, http.StatusServiceUnavailable, err)
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>malu preview</title>
<style>body{margin:0;background:#111;color:#eee;font-family:sans-serif;text-align:center}
img{max-width:100%;margin-top:16px}form{display:inline-block;margin:8px}</style></head>
<body>
<img src="/stream" alt="preview">
<div>
<form method="post" action="/control/play"><button>Play</button></form>
<form method="post" action="/control/pause"><button>Pause</button></form>
<form method="post" action="/control/rewind"><button>Rewind</button></form>
</div>
</body></html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
