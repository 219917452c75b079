// Package main runs the segmentd server: it commits to a segmentation
// backend at startup and serves the prompt-to-mask API over HTTP.
package main

import (
	"context"

	"github.com/edaniels/golog"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/backend/localseg"
	"github.com/promptseg/segmentd/backend/remote"
	"github.com/promptseg/segmentd/config"
	"github.com/promptseg/segmentd/segmentation"
	"github.com/promptseg/segmentd/web"
)

// Version is set at link time.
var Version = "dev"

var logger = golog.NewDevelopmentLogger("segmentd")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile  string `flag:"config,usage=service config file (JSON5)"`
	BindAddress string `flag:"bind,usage=host:port to listen on (overrides config)"`
	Debug       bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := &config.Config{}
	if argsParsed.ConfigFile != "" {
		var err error
		cfg, err = config.Read(argsParsed.ConfigFile, logger)
		if err != nil {
			return err
		}
	} else if err := cfg.Validate(); err != nil {
		return err
	}
	if argsParsed.BindAddress != "" {
		cfg.Server.BindAddress = argsParsed.BindAddress
	}
	if argsParsed.Debug {
		cfg.Server.Debug = true
	}
	if !cfg.Server.Debug {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zl, err := logConfig.Build()
		if err != nil {
			return err
		}
		logger = zl.Sugar().Named("segmentd")
	}

	logger.Infow("starting segmentd", "version", Version)

	// Backend initialization is paid once here, never per request; a fully
	// failed selection is not fatal, the engine serves fallback masks.
	active, selectErr := backend.Select(ctx, candidates(cfg), logger)
	if active == nil && selectErr != nil {
		logger.Debugw("backend selection detail", "error", selectErr)
	}

	engine := segmentation.NewEngine(active, logger)
	server := web.NewServer(engine, web.Options{
		BindAddress: cfg.Server.BindAddress,
		Version:     Version,
	}, logger)
	return server.Serve(ctx)
}

// candidates builds the fixed priority order: remote server first (richest
// capability set), then the CPU backend, with the geometry fallback
// implicit at the end.
func candidates(cfg *config.Config) []backend.Initializer {
	var list []backend.Initializer
	if cfg.Backends.Remote != nil {
		remoteConf := cfg.Backends.Remote
		list = append(list, backend.Initializer{
			Name: "remote",
			Init: func(ctx context.Context, logger golog.Logger) (backend.Backend, error) {
				return remote.New(ctx, remoteConf, logger)
			},
		})
	}
	if !cfg.Backends.DisableLocal {
		localConf := cfg.Backends.Local
		if localConf == nil {
			localConf = &localseg.Config{}
		}
		list = append(list, backend.Initializer{
			Name: "localseg",
			Init: func(ctx context.Context, logger golog.Logger) (backend.Backend, error) {
				return localseg.New(ctx, localConf, logger)
			},
		})
	}
	return list
}
