package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var out bytes.Buffer
	if err := run(context.Background(), logger, "", nil, &out); !errors.Is(err, errUsage) {
		t.Errorf("no command: %v", err)
	}
	if err := run(context.Background(), logger, "", []string{"dance"}, &out); !errors.Is(err, errUsage) {
		t.Errorf("unknown command: %v", err)
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malu.yaml")
	if err := os.WriteFile(path, []byte("encoder:\n  codecs: [h265]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(context.Background(), logger, path, []string{"export"}, io.Discard); err == nil {
		t.Fatal("unknown codec accepted")
	}
}
