package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	plugins "github.com/mantonx/redseat/sdk"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "ffmpeg_software",
		Level:      hclog.LevelFromString(os.Getenv("REDSEAT_PLUGIN_LOG_LEVEL")),
		JSONFormat: true,
	})

	outDir := os.Getenv("FFMPEG_OUTPUT_DIR")
	if outDir == "" {
		outDir = filepath.Join(os.TempDir(), "redseat-convert")
	}

	conv := NewConverter("ffmpeg", outDir, logger)
	defer conv.Stop()

	plugins.Serve(conv.Mux())
}

// Mux routes the video_convert functions to the converter
func (c *Converter) Mux() plugins.Mux {
	m := plugins.Mux{}
	m.Handle(plugins.FuncConvert, func(ctx context.Context, in *plugins.Input) (interface{}, error) {
		var j convertJob
		if err := in.Bind(&j); err != nil {
			return nil, err
		}
		return c.Start(j)
	})
	m.Handle(plugins.FuncConvertStatus, withJob(c.Status))
	m.Handle(plugins.FuncConvertCancel, withJob(c.Cancel))
	m.Handle(plugins.FuncConvertLink, withJob(c.Link))
	m.Handle(plugins.FuncConvertClean, withJob(c.Clean))
	m.Handle(plugins.FuncConvertCapabilities, func(context.Context, *plugins.Input) (interface{}, error) {
		return c.Capabilities(), nil
	})
	return m
}

func withJob[T any](fn func(id string) (T, error)) plugins.Func {
	return func(_ context.Context, in *plugins.Input) (interface{}, error) {
		var p jobParams
		if err := in.Bind(&p); err != nil {
			return nil, err
		}
		return fn(p.JobID)
	}
}
