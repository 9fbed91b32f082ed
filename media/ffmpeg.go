package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// FFmpeg runs the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	Path      string
	ProbePath string
	Logger    *slog.Logger

	once     sync.Once
	encoders map[string]bool
}

// Locate finds ffmpeg and ffprobe. Empty arguments are resolved from PATH.
func Locate(ffmpegPath, ffprobePath string) (*FFmpeg, error) {
	if ffmpegPath == "" {
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("media: ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = p
	}
	if ffprobePath == "" {
		if p, err := exec.LookPath("ffprobe"); err == nil {
			ffprobePath = p
		}
	}
	return &FFmpeg{Path: ffmpegPath, ProbePath: ffprobePath, Logger: slog.Default()}, nil
}

// Supports reports whether ffmpeg can encode c. The encoder list is read
// once.
func (f *FFmpeg) Supports(ctx context.Context, c Codec) bool {
	f.once.Do(func() {
		f.encoders = f.listEncoders(ctx)
	})
	if f.encoders == nil {
		return false
	}
	if c.Encoder == "" {
		return true
	}
	return f.encoders[c.Encoder]
}

func (f *FFmpeg) listEncoders(ctx context.Context) map[string]bool {
	out, err := exec.CommandContext(ctx, f.Path, "-hide_banner", "-encoders").Output()
	if err != nil {
		f.Logger.Warn("media: list ffmpeg encoders", "error", err)
		return nil
	}
	return parseEncoders(out)
}

// parseEncoders reads `ffmpeg -encoders` output. Video encoder lines look like
// " V....D libvpx-vp9           libvpx VP9".
func parseEncoders(out []byte) map[string]bool {
	encs := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	started := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "------" {
			started = true
			continue
		}
		if !started {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		encs[fields[1]] = true
	}
	return encs
}

// EncodeOptions tune an encoder.
type EncodeOptions struct {
	FPS     int
	Bitrate int // bits per second; 0 lets the encoder decide
}

// buildEncodeArgs reads raw RGBA frames from stdin and writes the container
// to stdout.
func buildEncodeArgs(w, h int, c Codec, o EncodeOptions) []string {
	fps := o.FPS
	if fps <= 0 {
		fps = 30
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
	}
	if c.Encoder != "" {
		args = append(args, "-c:v", c.Encoder)
	}
	if o.Bitrate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", o.Bitrate/1000))
	}
	if c.Encoder == "libvpx-vp9" || c.Encoder == "libvpx" {
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	}
	args = append(args, "-pix_fmt", "yuv420p", "-f", c.Format, "pipe:1")
	return args
}

// LiveEncoderFactory returns an EncoderFactory backed by ffmpeg.
func (f *FFmpeg) LiveEncoderFactory(o EncodeOptions) EncoderFactory {
	return func(ctx context.Context, w, h int, c Codec) (LiveEncoder, error) {
		return f.startEncoder(ctx, w, h, c, o)
	}
}

type processEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *bytes.Buffer
	w, h   int
	buf    []byte
	closed bool
}

func (f *FFmpeg) startEncoder(ctx context.Context, w, h int, c Codec, o EncodeOptions) (*processEncoder, error) {
	cmd := exec.CommandContext(ctx, f.Path, buildEncodeArgs(w, h, c, o)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start ffmpeg: %w", err)
	}
	return &processEncoder{
		cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr,
		w: w, h: h, buf: make([]byte, w*h*4),
	}, nil
}

func (e *processEncoder) Read(p []byte) (int, error) { return e.stdout.Read(p) }

func (e *processEncoder) WriteFrame(img image.Image) error {
	rgba := Scale(img, e.w, e.h)
	// Copy row by row: the source stride may exceed w*4.
	for y := 0; y < e.h; y++ {
		off := y * rgba.Stride
		copy(e.buf[y*e.w*4:(y+1)*e.w*4], rgba.Pix[off:off+e.w*4])
	}
	_, err := e.stdin.Write(e.buf)
	return err
}

func (e *processEncoder) CloseInput() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.stdin.Close()
}

func (e *processEncoder) Wait() error {
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, strings.TrimSpace(e.stderr.String()))
	}
	return nil
}

// VideoInfo describes the first video stream of a file.
type VideoInfo struct {
	Width    int
	Height   int
	Duration float64 // seconds; 0 when the container does not record it
	Codec    string
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the dimensions of the video in path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	if f.ProbePath == "" {
		return nil, fmt.Errorf("media: ffprobe path is empty")
	}
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
	out, err := exec.CommandContext(ctx, f.ProbePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("media: ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (*VideoInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return nil, fmt.Errorf("media: parse ffprobe output: %w", err)
	}
	for _, s := range po.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := &VideoInfo{Width: s.Width, Height: s.Height, Codec: s.CodecName}
		if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
			info.Duration = d
		}
		return info, nil
	}
	return nil, errors.New("media: no video stream")
}

// Decode expands an encoded video into RGBA frames at fps.
func (f *FFmpeg) Decode(ctx context.Context, video []byte, fps int) (*Clip, error) {
	tmp, err := os.CreateTemp("", "malu-decode-*.webm")
	if err != nil {
		return nil, fmt.Errorf("media: decode: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("media: decode: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("media: decode: %w", err)
	}

	info, err := f.Probe(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("media: decode: invalid video size %dx%d", info.Width, info.Height)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", tmp.Name(),
		"-an",
		"-r", strconv.Itoa(fps),
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: decode: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: decode: start ffmpeg: %w", err)
	}

	clip := &Clip{Width: info.Width, Height: info.Height, FPS: fps}
	r := bufio.NewReaderSize(stdout, 1<<20)
	for {
		img := image.NewRGBA(image.Rect(0, 0, info.Width, info.Height))
		if _, err := io.ReadFull(r, img.Pix); err != nil {
			break
		}
		clip.Frames = append(clip.Frames, img)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("media: decode: ffmpeg failed: %w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}
	if len(clip.Frames) == 0 {
		return nil, errors.New("media: decode: no frames")
	}
	return clip, nil
}

// ScreenSource describes a full-screen grab.
type ScreenSource struct {
	Display string // x11 display (":0.0"), avfoundation device ("1") or "desktop"
	Width   int
	Height  int
	FPS     int
}

// screenInputArgs picks the platform grabber.
func screenInputArgs(goos string, s ScreenSource) []string {
	fps := strconv.Itoa(s.FPS)
	size := fmt.Sprintf("%dx%d", s.Width, s.Height)
	switch goos {
	case "windows":
		return []string{"-f", "gdigrab", "-framerate", fps, "-i", "desktop"}
	case "darwin":
		dev := s.Display
		if dev == "" {
			dev = "1"
		}
		return []string{"-f", "avfoundation", "-framerate", fps, "-capture_cursor", "1", "-i", dev + ":none"}
	default:
		disp := s.Display
		if disp == "" {
			disp = os.Getenv("DISPLAY")
		}
		if disp == "" {
			disp = ":0.0"
		}
		return []string{"-f", "x11grab", "-video_size", size, "-framerate", fps, "-i", disp}
	}
}

// GrabScreen starts a screen capture stream. The stream ends when Stop is
// called or ffmpeg exits.
func (f *FFmpeg) GrabScreen(ctx context.Context, id string, s ScreenSource) (Stream, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("media: screen grab needs a size, got %dx%d", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, screenInputArgs(runtime.GOOS, s)...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", s.Width, s.Height),
		"-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("media: screen grab: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("media: screen grab: start ffmpeg: %w", err)
	}

	feed := NewFeed(id, s.Width, s.Height, cancel)
	go func() {
		defer feed.End()
		defer cmd.Wait()
		r := bufio.NewReaderSize(stdout, s.Width*s.Height*4)
		var ts int64
		step := int64(1000 / s.FPS)
		for {
			img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
			if _, err := io.ReadFull(r, img.Pix); err != nil {
				f.Logger.Info("media: screen grab ended", "stream", id, "error", err)
				return
			}
			feed.Push(Frame{Image: img, TimestampMs: ts})
			ts += step
		}
	}()
	return feed, nil
}
