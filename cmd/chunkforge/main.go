// chunkforge compiles glTF and RSM scenes into runtime containers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/Faultbox/chunkforge/internal/config"
	"github.com/Faultbox/chunkforge/internal/logger"
	"github.com/Faultbox/chunkforge/internal/pipeline"
)

func main() {
	flag.Usage = usage
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if config.DumpRequested() {
		if err := cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	logger.Sugar.Debugf("Config: %+v", cfg)

	if config.SaveRequested() {
		path, err := cfg.Save()
		if err != nil {
			logger.Error("saving config failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		logger.Info("config saved", zap.String("path", path))
		logger.Sync()
		return
	}

	inputs := config.Args()
	if len(inputs) == 0 {
		usage()
		os.Exit(2)
	}
	logger.Debug("inputs", zap.Strings("scenes", inputs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	_, err = pipeline.Run(ctx, cfg, inputs)
	stop()
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted, nothing written")
		logger.Sync()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("compile failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `chunkforge - scene to runtime container compiler

Usage:
  chunkforge [options] <scene.glb|scene.gltf|model.rsm>...

Each scene is written to a .ckf container next to it unless -o is given.
Keyframe streams are written as .kfs files next to the container.

Options:
`)
	flag.PrintDefaults()
}
