package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"time"

	"github.com/hazyhaar/malu/capture"
)

// stopTimeout bounds the finalize after the recording is interrupted.
const stopTimeout = 30 * time.Second

func runRecord(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	pageURL := fs.String("url", a.cfg.Browser.StartURL, "page to open and trace")
	screen := fs.Bool("screen", false, "grab the whole screen instead of the tab")
	display := fs.String("display", "", "screen to grab (default: the browser's display)")
	duration := fs.Duration("duration", 0, "stop after this long; 0 records until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tabs, err := a.startBrowser(ctx)
	if err != nil {
		return err
	}
	defer tabs.Close()

	surfaceID, err := tabs.Open(ctx, *pageURL)
	if err != nil {
		return err
	}
	sess, release, err := a.recorder(ctx, tabs)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))

	src := capture.Source{Kind: capture.SourceTab, SurfaceID: surfaceID}
	if *screen {
		src.Kind = capture.SourceScreen
		src.Display = *display
		if src.Display == "" {
			src.Display = tabs.Display()
		}
	}
	if err := sess.SelectSource(ctx, src); err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("malu: recording", "surface", surfaceID, "source", string(src.Kind), "duration", *duration)

	waitRecording(ctx, sess, *duration)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	res, err := sess.Stop(stopCtx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// waitRecording returns when ctx ends, d elapses, or the session leaves
// Recording on its own (the source went away).
func waitRecording(ctx context.Context, sess *capture.Session, d time.Duration) {
	var deadline <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-poll.C:
			if sess.Status() != capture.StatusRecording {
				return
			}
		}
	}
}
