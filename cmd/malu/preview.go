package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/hazyhaar/malu/export"
	"github.com/hazyhaar/malu/preview"
	"github.com/hazyhaar/malu/store"
)

func runPreview(ctx context.Context, a *app, args []string) error {
	cfg := a.cfg.Preview
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ff, err := a.ffmpeg()
	if err != nil {
		return err
	}
	player := export.NewPlayer(
		export.WithPreviewFPS(cfg.FPS),
		export.WithCamera(a.cfg.CameraOptions()),
		export.WithPlayerLogger(a.logger))
	defer player.Close()

	srv := preview.New(player, a.store, ff,
		preview.WithDecodeFPS(cfg.DecodeFPS),
		preview.WithStreamFPS(cfg.StreamFPS),
		preview.WithJPEGQuality(cfg.JPEGQuality),
		preview.WithLogger(a.logger))
	if err := srv.Reload(ctx); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	go player.Run(ctx)
	// Recordings are written by another process, so data_version sees them.
	go srv.Watch(ctx, a.store.Watch(store.WatchOptions{
		Interval: a.cfg.Store.WatchInterval,
		Detector: store.PragmaDataVersion,
		Logger:   a.logger,
	}))

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("malu: preview listening", "addr", *addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("malu: preview shutdown", "error", err)
	}
	a.logger.Info("malu: preview stopped")
	return nil
}
