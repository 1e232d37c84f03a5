// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianStates/pkg/logging"
	"github.com/AleutianAI/AleutianStates/services/states"
	"github.com/AleutianAI/AleutianStates/services/states/config"
)

type serveOptions struct {
	configPath string
	port       int
	storage    string
	dataPath   string
	debug      bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server until SIGINT or SIGTERM.

Configuration comes from defaults, then --config, then STATES_* environment
variables, then flags. When --config is given the file is watched and a new
logging level takes effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg, opts.configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.IntVarP(&opts.port, "port", "p", 0, "listen port")
	flags.StringVar(&opts.storage, "storage", "", "storage backend: memory, file or badger")
	flags.StringVar(&opts.dataPath, "data-path", "", "file or directory for the file and badger backends")
	flags.BoolVar(&opts.debug, "debug", false, "log at debug level")
	return cmd
}

// loadServeConfig layers changed flags over the loaded config and
// validates the result.
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	applyFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *serveOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("storage") {
		cfg.Storage.Type = opts.storage
	}
	if flags.Changed("data-path") {
		cfg.Storage.Path = opts.dataPath
	}
	if opts.debug {
		cfg.Logging.Level = logging.LevelDebug
	}
}

// runServe runs the service and, when configPath is set, the config
// watcher until ctx is cancelled or either fails.
func runServe(ctx context.Context, cmd *cobra.Command, cfg config.Config, configPath string) error {
	logger := logging.New(cfg.Logging)
	defer logger.Close()

	printBanner(cmd.OutOrStdout(), cfg, version)

	svc, err := states.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, config.DefaultDebounce, func(next config.Config, err error) {
				if err != nil {
					logger.Warn("Config reload failed", "path", configPath, "error", err)
					return
				}
				if next.Logging.Level != logger.Level() {
					logger.SetLevel(next.Logging.Level)
					logger.Info("Log level changed", "level", next.Logging.Level.String())
				}
			})
		})
	}

	runErr := g.Wait()
	if err := svc.Close(); err != nil {
		logger.Error("Shutdown cleanup failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		logger.Error("Server stopped with error", "error", runErr)
		return fmt.Errorf("serve: %w", runErr)
	}
	logger.Info("Server stopped")
	return nil
}
