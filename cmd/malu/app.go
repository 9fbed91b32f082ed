package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/malu/agent"
	"github.com/hazyhaar/malu/bridge"
	"github.com/hazyhaar/malu/capture"
	"github.com/hazyhaar/malu/config"
	"github.com/hazyhaar/malu/export"
	"github.com/hazyhaar/malu/media"
	"github.com/hazyhaar/malu/store"
)

// app holds the components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store

	ffOnce sync.Once
	ff     *media.FFmpeg
	ffErr  error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.Store.Path,
		store.WithMkdirAll(),
		store.WithBusyTimeout(cfg.Store.BusyTimeoutMs),
		store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("malu: close store", "error", err)
	}
}

func (a *app) ffmpeg() (*media.FFmpeg, error) {
	a.ffOnce.Do(func() {
		a.ff, a.ffErr = media.Locate(a.cfg.Encoder.FFmpeg, a.cfg.Encoder.FFprobe)
		if a.ff != nil {
			a.ff.Logger = a.logger
		}
	})
	return a.ff, a.ffErr
}

func (a *app) startBrowser(ctx context.Context) (*agent.Tabs, error) {
	b := a.cfg.Browser
	return agent.StartBrowser(ctx, agent.BrowserConfig{
		Remote:      b.Remote,
		Bin:         b.Bin,
		Mode:        b.Stealth,
		XvfbDisplay: b.XvfbDisplay,
	}, a.logger)
}

// recorder wires a capture session: bridge, encoder context, pointer
// injector and capture platform. The returned func releases them.
func (a *app) recorder(ctx context.Context, tabs *agent.Tabs) (*capture.Session, func(context.Context), error) {
	cfg, logger := a.cfg, a.logger
	ff, err := a.ffmpeg()
	if err != nil {
		return nil, nil, err
	}
	codecs, err := cfg.EncoderCodecs()
	if err != nil {
		return nil, nil, err
	}

	inj := agent.NewInjector(tabs,
		agent.WithInjectorLogger(logger),
		agent.WithAgentOptions(agent.WithFlushInterval(cfg.Capture.PointerFlush)))
	router := bridge.NewRouter(
		bridge.WithRouterLogger(logger),
		bridge.WithMiddleware(bridge.Recovery(logger), bridge.Logging(logger)))
	b := bridge.New(router,
		bridge.WithLogger(logger),
		bridge.WithInjector(inj),
		bridge.WithHandshake(cfg.Capture.HandshakeAttempts, cfg.Capture.HandshakeInterval))
	inj.Bind(b)

	streams := media.NewRegistry()
	host := media.NewHost(b, streams,
		ff.LiveEncoderFactory(media.EncodeOptions{FPS: cfg.Capture.FrameRate, Bitrate: cfg.Encoder.Bitrate}),
		media.WithCodecs(codecs...),
		media.WithSupport(func(c media.Codec) bool { return ff.Supports(ctx, c) }),
		media.WithHostSlice(cfg.Encoder.Slice),
		media.WithHostLogger(logger))

	platform := agent.NewPlatform(tabs, ff,
		agent.WithScreencast(agent.ScreencastOptions{
			Quality:       80,
			MaxWidth:      cfg.Capture.MaxWidth,
			MaxHeight:     cfg.Capture.MaxHeight,
			EveryNthFrame: 1,
		}),
		agent.WithScreenSize(cfg.Capture.MaxWidth, cfg.Capture.MaxHeight, cfg.Capture.FrameRate),
		agent.WithPlatformLogger(logger))

	sess := capture.New(capture.Config{
		Bridge:       b,
		Platform:     platform,
		Streams:      streams,
		Store:        a.store,
		OpenEncoder:  host.Open,
		SaveWait:     cfg.Capture.SaveWait,
		LateSaveWait: cfg.Capture.LateSaveWait,
		Logger:       logger,
	})
	release := func(ctx context.Context) {
		if err := sess.Close(ctx); err != nil {
			logger.Warn("malu: close session", "error", err)
		}
		host.Close(ctx)
	}
	return sess, release, nil
}

func (a *app) exporter() (*export.Exporter, error) {
	ff, err := a.ffmpeg()
	if err != nil {
		return nil, err
	}
	codecs, err := a.cfg.EncoderCodecs()
	if err != nil {
		return nil, err
	}
	if len(codecs) == 0 {
		return nil, fmt.Errorf("malu: no encoder codec configured")
	}
	e := a.cfg.Export
	return &export.Exporter{
		Store:   a.store,
		Decoder: ff,
		NewEncoder: func(ctx context.Context) media.VideoEncoder {
			return media.NewFFmpegEncoder(ctx, ff)
		},
		OutputDir: e.OutputDir,
		Defaults: export.Options{
			FPS:     e.FPS,
			Bitrate: e.Bitrate,
			Codec:   codecs[0],
			Width:   e.Width,
			Height:  e.Height,
			Camera:  a.cfg.CameraOptions(),
		},
		Logger: a.logger,
	}, nil
}
