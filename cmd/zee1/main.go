// Command zee1 runs the engine headless with the mod named on the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/audio"
	"github.com/hvhvdevdev/zee1/internal/config"
	"github.com/hvhvdevdev/zee1/internal/control"
	"github.com/hvhvdevdev/zee1/internal/diagnostics"
	"github.com/hvhvdevdev/zee1/internal/engine"
	"github.com/hvhvdevdev/zee1/internal/engine/events"
	"github.com/hvhvdevdev/zee1/internal/engine/metrics"
	"github.com/hvhvdevdev/zee1/internal/logging"
	"github.com/hvhvdevdev/zee1/internal/scripting"
	"github.com/hvhvdevdev/zee1/internal/video"
)

const dotenvFile = ".env"

func main() {
	if err := run(context.Background(), os.Args, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "zee1: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	env, err := config.LoadEnv(dotenvFile)
	if err != nil {
		return err
	}

	cfg, err := config.ReadArgs(args)
	if err != nil {
		program := "zee1"
		if len(args) > 0 && args[0] != "" {
			program = filepath.Base(args[0])
		}
		config.Usage(stderr, program)
		return err
	}

	logger := logging.New(logging.Options{Level: env.LogLevel, Format: env.LogFormat, Out: stderr})
	log := logger.WithComponent("zee1")
	log.WithFields(logrus.Fields{
		"window_width":  cfg.WindowWidth,
		"window_height": cfg.WindowHeight,
		"mod_root":      cfg.ModRoot,
	}).Info("starting")

	eventLog := events.NewRingBuffer(env.EventBuffer)
	unsubscribe := eventLog.Subscribe(logging.EventHook(logger))
	defer unsubscribe()

	collector := metrics.NewCollector("zee1")
	engineLog := logrus.NewEntry(logger.Logger)

	root := engine.New(
		video.New(video.Options{
			Width:     cfg.WindowWidth,
			Height:    cfg.WindowHeight,
			FrameRate: env.FrameRate,
			MaxFrames: env.MaxFrames,
			Logger:    engineLog,
		}),
		audio.NewNull(engineLog),
		scripting.New(scripting.Options{ModRoot: cfg.ModRoot, Logger: engineLog}),
		control.NewSignals(engineLog),
		engine.WithEvents(eventLog),
		engine.WithMetrics(collector),
	)

	if env.DiagnosticsAddr != "" {
		srv := diagnostics.New(diagnostics.Options{
			Addr:     env.DiagnosticsAddr,
			Source:   root,
			Events:   eventLog,
			Registry: collector.Registry(),
			Logger:   log,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("diagnostics shutdown")
			}
		}()
	}

	if err := root.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.WithField("frames", root.Frames()).Info("stopped")
	return nil
}
