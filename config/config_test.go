package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/malu/camera"
	"github.com/hazyhaar/malu/media"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Capture.HandshakeAttempts != 20 || c.Capture.HandshakeInterval != 50*time.Millisecond {
		t.Errorf("handshake: %+v", c.Capture)
	}
	if c.Capture.SaveWait != 5*time.Second || c.Capture.LateSaveWait != 30*time.Second || c.Encoder.Slice != 200*time.Millisecond {
		t.Errorf("waits: %+v %+v", c.Capture, c.Encoder)
	}
	if c.Export.FPS != 60 || c.Export.Bitrate != 8_000_000 {
		t.Errorf("export: %+v", c.Export)
	}
	if got := c.CameraOptions(); got.FocusZoom != 1.8 || got.BaseZoom != 0.9 || got.ClickWindowMs != 800 {
		t.Errorf("camera: %+v", got)
	}
	if def := camera.DefaultOptions(); c.CameraOptions().PanSmoothing != def.PanSmoothing {
		t.Error("pan smoothing differs from the camera default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malu.yaml")
	yml := `
store:
  path: /tmp/rec.db
capture:
  save_wait: 2s
  handshake_attempts: 5
encoder:
  codecs: [vp8]
camera:
  focus_zoom: 2.5
  click_window: 500ms
export:
  fps: 30
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Path != "/tmp/rec.db" || c.Capture.SaveWait != 2*time.Second || c.Capture.HandshakeAttempts != 5 {
		t.Errorf("parsed: %+v %+v", c.Store, c.Capture)
	}
	if c.Capture.HandshakeInterval != 50*time.Millisecond {
		t.Errorf("default not applied: %v", c.Capture.HandshakeInterval)
	}
	codecs, err := c.EncoderCodecs()
	if err != nil || len(codecs) != 1 || codecs[0] != media.VP8 {
		t.Errorf("codecs: %v %v", codecs, err)
	}
	o := c.CameraOptions()
	if o.FocusZoom != 2.5 || o.ClickWindowMs != 500 || o.BaseZoom != 0.9 {
		t.Errorf("camera: %+v", o)
	}
	if c.Export.FPS != 30 {
		t.Errorf("export fps: %v", c.Export.FPS)
	}
}

func TestParse_UnknownCodec(t *testing.T) {
	if _, err := Parse([]byte("encoder:\n  codecs: [h265]\n")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	c, err := LoadFile("")
	if err != nil || c.Preview.Addr == "" {
		t.Fatalf("got %+v, %v", c, err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
