// Command malu records a browser tab or the screen together with a pointer
// trace, then replays the recording through a virtual camera.
//
// Usage:
//
//	malu [-config malu.yaml] record -url https://example.com [-duration 30s]
//	malu [-config malu.yaml] record -screen [-display :0]
//	malu [-config malu.yaml] export [-o out.webm] [-fps 60]
//	malu [-config malu.yaml] preview [-addr 127.0.0.1:8787]
//	malu [-config malu.yaml] mcp        # MCP tools over stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/malu/config"
)

const usage = "usage: malu [-config file] [-log-level level] record|export|preview|mcp [flags]"

var errUsage = errors.New(usage)

func main() {
	configPath := flag.String("config", "", "path to malu.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("malu: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "record", "export", "preview", "mcp":
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "record":
		return runRecord(ctx, a, args, out)
	case "export":
		return runExport(ctx, a, args, out)
	case "preview":
		return runPreview(ctx, a, args)
	default:
		return runMCP(ctx, a)
	}
}
