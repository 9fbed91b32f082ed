package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/media"
)

// ArtifactLoader returns the persisted recording.
type ArtifactLoader interface {
	LoadArtifact(ctx context.Context) (*artifact.Artifact, error)
}

// Decoder expands encoded video into frames at fps.
type Decoder interface {
	Decode(ctx context.Context, video []byte, fps int) (*media.Clip, error)
}

// Exporter loads the latest artifact, renders it and writes the result to
// a file.
type Exporter struct {
	Store      ArtifactLoader
	Decoder    Decoder
	NewEncoder func(ctx context.Context) media.VideoEncoder
	OutputDir  string
	Defaults   Options
	Logger     *slog.Logger
	Now        func() time.Time
}

// Request overrides the exporter defaults for one export.
type Request struct {
	Output  string  `json:"output,omitempty"`
	FPS     float64 `json:"fps,omitempty"`
	Bitrate int     `json:"bitrate,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
}

// Result describes a written export.
type Result struct {
	Path       string  `json:"path"`
	Bytes      int     `json:"bytes"`
	Frames     int     `json:"frames"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	DurationMs float64 `json:"durationMs"`
	Samples    int     `json:"samples"`
}

// FileName is the default export name for time now.
func FileName(now time.Time) string {
	return fmt.Sprintf("malu-export-%d.webm", now.UnixMilli())
}

// Export renders the stored artifact and writes it.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	opts := e.Defaults
	if req.FPS > 0 {
		opts.FPS = req.FPS
	}
	if req.Bitrate > 0 {
		opts.Bitrate = req.Bitrate
	}
	if req.Width > 0 && req.Height > 0 {
		opts.Width, opts.Height = req.Width, req.Height
	}
	opts.Logger = logger
	opts.applyDefaults()

	a, err := e.Store.LoadArtifact(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: load: %w", err)
	}
	clip, err := e.Decoder.Decode(ctx, a.Video, int(opts.FPS+0.5))
	if err != nil {
		return nil, fmt.Errorf("export: decode: %w", err)
	}

	start := now()
	out, err := Render(ctx, a.Metadata, clip, e.NewEncoder(ctx), opts)
	if err != nil {
		return nil, err
	}

	path := req.Output
	if path == "" {
		path = filepath.Join(e.OutputDir, FileName(start))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
	}
	if err := os.WriteFile(path, out.Video, 0o644); err != nil {
		return nil, fmt.Errorf("export: write: %w", err)
	}

	res := &Result{
		Path:       path,
		Bytes:      len(out.Video),
		Frames:     out.Frames,
		Width:      out.Width,
		Height:     out.Height,
		DurationMs: out.DurationMs,
		Samples:    len(a.Samples),
	}
	logger.Info("export: written", "path", path, "bytes", res.Bytes, "frames", res.Frames,
		"elapsed", now().Sub(start))
	return res, nil
}
