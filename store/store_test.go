package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/malu/artifact"
	"github.com/hazyhaar/malu/retry"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPutGet(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v1"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v2"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	v, mime, err := s.Get(ctx, "k")
	if err != nil || string(v) != "v2" || mime != "text/plain" {
		t.Fatalf("got %q %q %v", v, mime, err)
	}
}

func TestArtifactRoundTrip_SortedNoLossNoDup(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()

	in := &artifact.Artifact{
		Video:    []byte("webm-bytes"),
		MimeType: "video/webm;codecs=vp9",
		Metadata: artifact.Metadata{
			Samples: []artifact.Sample{
				{TimestampMs: 300, X: 3, Kind: artifact.KindMove},
				{TimestampMs: 100, X: 1, Kind: artifact.KindMove},
				{TimestampMs: 200, X: 2, ScreenX: artifact.Float(20), ScreenY: artifact.Float(40), Kind: artifact.KindClick},
			},
			Geometry: &artifact.Geometry{Width: 1280, Height: 720, DPR: 2, WindowX: artifact.Float(10), WindowY: artifact.Float(20)},
		},
	}
	if err := s.SaveArtifact(ctx, in); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	out, err := s.LoadArtifact(ctx)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if string(out.Video) != "webm-bytes" || out.MimeType != in.MimeType {
		t.Errorf("video: %q %q", out.Video, out.MimeType)
	}
	if len(out.Samples) != 3 {
		t.Fatalf("samples: got %d, want 3", len(out.Samples))
	}
	for i, want := range []int64{100, 200, 300} {
		if out.Samples[i].TimestampMs != want || out.Samples[i].X != float64(i+1) {
			t.Errorf("sample %d: %+v", i, out.Samples[i])
		}
	}
	if !out.Samples[1].HasScreen() || *out.Samples[1].ScreenY != 40 {
		t.Errorf("screen coords lost: %+v", out.Samples[1])
	}
	if out.Geometry == nil || out.Geometry.DPR != 2 || !out.Geometry.HasWindowOrigin() {
		t.Errorf("geometry: %+v", out.Geometry)
	}
}

func TestLoadArtifact_LegacyMetadata(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()
	if err := s.Put(ctx, KeyVideo, []byte("v"), "video/webm"); err != nil {
		t.Fatal(err)
	}
	legacy := `[{"timestamp":20,"x":2,"y":2,"type":"move"},{"timestamp":10,"x":1,"y":1,"type":"move"}]`
	if err := s.Put(ctx, KeyMetadata, []byte(legacy), "application/json"); err != nil {
		t.Fatal(err)
	}
	a, err := s.LoadArtifact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a.Geometry != nil || len(a.Samples) != 2 || a.Samples[0].TimestampMs != 10 {
		t.Errorf("got %+v", a.Metadata)
	}
}

func TestLoadArtifact_NoMetadata(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()
	if _, err := s.LoadArtifact(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: %v", err)
	}
	_ = s.Put(ctx, KeyVideo, []byte("v"), "")
	a, err := s.LoadArtifact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Samples) != 0 || a.Geometry != nil {
		t.Errorf("got %+v", a.Metadata)
	}
}

func TestSaveTrace_ClearsVideo(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()
	if err := s.SaveArtifact(ctx, &artifact.Artifact{Video: []byte("old"), MimeType: "video/webm"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTrace(ctx, artifact.Metadata{Samples: []artifact.Sample{{TimestampMs: 5}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadArtifact(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("artifact with a stale video: %v", err)
	}
	raw, _, err := s.Get(ctx, KeyMetadata)
	if err != nil {
		t.Fatal(err)
	}
	md, err := artifact.Decode(raw)
	if err != nil || len(md.Samples) != 1 {
		t.Fatalf("metadata: %+v %v", md, err)
	}
}

func TestRunTx_RetriesBusy(t *testing.T) {
	s := OpenMemory(t, quiet(), WithBusyRetry(3, time.Millisecond))
	calls := 0
	err := s.RunTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY: database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRunTx_BusyExhausted(t *testing.T) {
	s := OpenMemory(t, quiet(), WithBusyRetry(2, time.Millisecond))
	calls := 0
	err := s.RunTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		return errors.New("database is locked")
	})
	if calls != 2 || !errors.Is(err, retry.ErrExhausted) || !IsBusy(err) {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRunTx_OtherErrorNotRetried(t *testing.T) {
	s := OpenMemory(t, quiet(), WithBusyRetry(5, time.Millisecond))
	boom := errors.New("boom")
	calls := 0
	err := s.RunTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		return boom
	})
	if calls != 1 || !errors.Is(err, boom) || errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestJournal(t *testing.T) {
	s := OpenMemory(t, quiet())
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i, st := range []string{"source_selecting", "source_ready", "recording"} {
		if err := s.AppendEvent(ctx, Event{SessionID: "a", Status: st, Timestamp: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.AppendEvent(ctx, Event{SessionID: "b", Status: "error", ErrorMessage: "boom", Timestamp: base.Add(time.Hour)})

	evs, err := s.Events(ctx, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 || evs[0].Status != "source_selecting" || evs[2].Status != "recording" {
		t.Fatalf("events: %+v", evs)
	}
	if evs[0].EventID == "" {
		t.Error("event id not generated")
	}

	all, err := s.Events(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1].SessionID != "b" || all[1].ErrorMessage != "boom" {
		t.Fatalf("latest: %+v", all)
	}
}

func TestWatcher_FiresOnSave(t *testing.T) {
	s := OpenMemory(t, quiet())
	w := s.Watch(WatchOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	fired := 0
	go w.OnChange(ctx, func() error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if err := s.Put(ctx, KeyVideo, []byte("x"), ""); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.Reloads() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if fired == 0 {
		t.Fatal("watcher did not fire")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "malu.db")
	s, err := Open(path, WithMkdirAll(), quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Put(context.Background(), "k", []byte("v"), ""); err != nil {
		t.Fatal(err)
	}
}
