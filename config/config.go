// Package config loads malu settings from a YAML file. Every field has a
// default, so an empty or missing file yields a working configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/malu/camera"
	"github.com/hazyhaar/malu/media"
)

// Config is the top-level configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Encoder EncoderConfig `yaml:"encoder"`
	Camera  CameraConfig  `yaml:"camera"`
	Export  ExportConfig  `yaml:"export"`
	Preview PreviewConfig `yaml:"preview"`
}

// StoreConfig locates the persistence database.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	BusyTimeoutMs int           `yaml:"busy_timeout_ms"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// BrowserConfig controls the Chrome instance hosting recorded tabs.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`       // ws:// URL of an existing Chrome; empty launches one
	Bin         string `yaml:"bin"`          // Chrome binary for local launches
	Stealth     string `yaml:"stealth"`      // headless | headful
	XvfbDisplay string `yaml:"xvfb_display"` // used by headful launches without a display
	StartURL    string `yaml:"start_url"`
}

// CaptureConfig tunes the recording session.
type CaptureConfig struct {
	HandshakeAttempts int           `yaml:"handshake_attempts"`
	HandshakeInterval time.Duration `yaml:"handshake_interval"`
	SaveWait          time.Duration `yaml:"save_wait"`
	LateSaveWait      time.Duration `yaml:"late_save_wait"`
	FrameRate         int           `yaml:"frame_rate"`
	MaxWidth          int           `yaml:"max_width"`
	MaxHeight         int           `yaml:"max_height"`
	PointerFlush      time.Duration `yaml:"pointer_flush"`
}

// EncoderConfig configures ffmpeg.
type EncoderConfig struct {
	FFmpeg  string        `yaml:"ffmpeg"`
	FFprobe string        `yaml:"ffprobe"`
	Codecs  []string      `yaml:"codecs"` // preference order: vp9, vp8
	Slice   time.Duration `yaml:"slice"`
	Bitrate int           `yaml:"bitrate"`
}

// CameraConfig tunes the virtual camera.
type CameraConfig struct {
	FocusZoom     float64       `yaml:"focus_zoom"`
	BaseZoom      float64       `yaml:"base_zoom"`
	ClickWindow   time.Duration `yaml:"click_window"`
	ZoomSmoothing float64       `yaml:"zoom_smoothing"`
	PanSmoothing  float64       `yaml:"pan_smoothing"`
	ModeTolerance float64       `yaml:"mode_tolerance"`
	CursorColor   string        `yaml:"cursor_color"`
	CursorSize    float64       `yaml:"cursor_size"`
}

// ExportConfig sets the offline render.
type ExportConfig struct {
	FPS       float64 `yaml:"fps"`
	Bitrate   int     `yaml:"bitrate"`
	OutputDir string  `yaml:"output_dir"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
}

// PreviewConfig sets the preview server.
type PreviewConfig struct {
	Addr        string  `yaml:"addr"`
	FPS         float64 `yaml:"fps"`
	DecodeFPS   int     `yaml:"decode_fps"`
	StreamFPS   int     `yaml:"stream_fps"`
	JPEGQuality int     `yaml:"jpeg_quality"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file. An empty path returns Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if _, err := cfg.EncoderCodecs(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "malu.db"
	}
	if c.Store.BusyTimeoutMs <= 0 {
		c.Store.BusyTimeoutMs = 10000
	}
	if c.Store.WatchInterval <= 0 {
		c.Store.WatchInterval = 500 * time.Millisecond
	}

	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.StartURL == "" {
		c.Browser.StartURL = "about:blank"
	}

	if c.Capture.HandshakeAttempts <= 0 {
		c.Capture.HandshakeAttempts = 20
	}
	if c.Capture.HandshakeInterval <= 0 {
		c.Capture.HandshakeInterval = 50 * time.Millisecond
	}
	if c.Capture.SaveWait <= 0 {
		c.Capture.SaveWait = 5 * time.Second
	}
	if c.Capture.LateSaveWait <= 0 {
		c.Capture.LateSaveWait = 30 * time.Second
	}
	if c.Capture.FrameRate <= 0 {
		c.Capture.FrameRate = 30
	}
	if c.Capture.MaxWidth <= 0 {
		c.Capture.MaxWidth = 1920
	}
	if c.Capture.MaxHeight <= 0 {
		c.Capture.MaxHeight = 1080
	}
	if c.Capture.PointerFlush <= 0 {
		c.Capture.PointerFlush = 16 * time.Millisecond
	}

	if c.Encoder.FFmpeg == "" {
		c.Encoder.FFmpeg = "ffmpeg"
	}
	if c.Encoder.FFprobe == "" {
		c.Encoder.FFprobe = "ffprobe"
	}
	if len(c.Encoder.Codecs) == 0 {
		c.Encoder.Codecs = []string{"vp9", "vp8"}
	}
	if c.Encoder.Slice <= 0 {
		c.Encoder.Slice = media.DefaultSlice
	}

	def := camera.DefaultOptions()
	if c.Camera.FocusZoom <= 0 {
		c.Camera.FocusZoom = def.FocusZoom
	}
	if c.Camera.BaseZoom <= 0 {
		c.Camera.BaseZoom = def.BaseZoom
	}
	if c.Camera.ClickWindow <= 0 {
		c.Camera.ClickWindow = time.Duration(def.ClickWindowMs) * time.Millisecond
	}
	if c.Camera.ZoomSmoothing <= 0 {
		c.Camera.ZoomSmoothing = def.ZoomSmoothing
	}
	if c.Camera.PanSmoothing <= 0 {
		c.Camera.PanSmoothing = def.PanSmoothing
	}
	if c.Camera.ModeTolerance <= 0 {
		c.Camera.ModeTolerance = def.ModeTolerance
	}
	if c.Camera.CursorColor == "" {
		c.Camera.CursorColor = def.CursorColor
	}
	if c.Camera.CursorSize <= 0 {
		c.Camera.CursorSize = def.CursorSize
	}

	if c.Export.FPS <= 0 {
		c.Export.FPS = 60
	}
	if c.Export.Bitrate <= 0 {
		c.Export.Bitrate = 8_000_000
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "."
	}

	if c.Preview.Addr == "" {
		c.Preview.Addr = "127.0.0.1:8787"
	}
	if c.Preview.FPS <= 0 {
		c.Preview.FPS = 60
	}
	if c.Preview.DecodeFPS <= 0 {
		c.Preview.DecodeFPS = 30
	}
	if c.Preview.StreamFPS <= 0 {
		c.Preview.StreamFPS = 30
	}
	if c.Preview.JPEGQuality <= 0 || c.Preview.JPEGQuality > 100 {
		c.Preview.JPEGQuality = 80
	}
}

// CameraOptions converts the camera section.
func (c *Config) CameraOptions() camera.Options {
	o := camera.DefaultOptions()
	o.FocusZoom = c.Camera.FocusZoom
	o.BaseZoom = c.Camera.BaseZoom
	o.ClickWindowMs = float64(c.Camera.ClickWindow) / float64(time.Millisecond)
	o.ZoomSmoothing = c.Camera.ZoomSmoothing
	o.PanSmoothing = c.Camera.PanSmoothing
	o.ModeTolerance = c.Camera.ModeTolerance
	o.CursorColor = c.Camera.CursorColor
	o.CursorSize = c.Camera.CursorSize
	return o
}

// EncoderCodecs resolves the codec preference list.
func (c *Config) EncoderCodecs() ([]media.Codec, error) {
	out := make([]media.Codec, 0, len(c.Encoder.Codecs))
	for _, name := range c.Encoder.Codecs {
		codec, ok := media.CodecByName(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown codec %q", name)
		}
		out = append(out, codec)
	}
	return out, nil
}
