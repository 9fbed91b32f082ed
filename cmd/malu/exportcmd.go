package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"

	"github.com/hazyhaar/malu/export"
)

func runExport(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	output := fs.String("o", "", "output file (default: malu-export-<ms>.webm in export.output_dir)")
	fps := fs.Float64("fps", 0, "frames per second (default from config)")
	bitrate := fs.Int("bitrate", 0, "bits per second (default from config)")
	width := fs.Int("width", 0, "output width (default: native video size)")
	height := fs.Int("height", 0, "output height")
	if err := fs.Parse(args); err != nil {
		return err
	}

	exp, err := a.exporter()
	if err != nil {
		return err
	}
	step := 0
	exp.Defaults.Progress = func(frame, total int) {
		if pct := frame * 10 / max(total, 1); pct > step {
			step = pct
			a.logger.Info("malu: export progress", "frame", frame, "total", total)
		}
	}

	res, err := exp.Export(ctx, export.Request{
		Output:  *output,
		FPS:     *fps,
		Bitrate: *bitrate,
		Width:   *width,
		Height:  *height,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
