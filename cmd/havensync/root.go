// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/havensync/internal/config"
	"github.com/tomtom215/havensync/internal/logging"
)

// loader produces the effective configuration. Tests inject their own.
type loader func() (*config.Config, error)

// cli carries state shared by every subcommand once the root pre-run has
// loaded the configuration.
type cli struct {
	load loader
	cfg  *config.Config
}

func newRootCmd(load loader) *cobra.Command {
	if load == nil {
		load = config.Load
	}
	c := &cli{load: load}

	root := &cobra.Command{
		Use:           "havensync",
		Short:         "Reconcile keeper discoveries into the Haven discoveries store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			c.cfg = cfg
			initLogging(cfg.Logging)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Services:"},
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
	)
	root.AddCommand(
		c.serveCmd(),
		c.companionCmd(),
		c.initTargetCmd(),
		c.enqueueCmd(),
		c.statusCmd(),
		c.failedCmd(),
		c.retryCmd(),
		c.syncCmd(),
		c.cleanupCmd(),
	)
	return root
}

func initLogging(cfg config.LoggingConfig) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Level
	lc.Format = cfg.Format
	lc.Caller = cfg.Caller
	if cfg.File != "" {
		lc.File = &logging.FileConfig{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	logging.Init(lc)
}

// printJSON writes v as indented JSON. Command results go to stdout and
// logs go to stderr, so output stays pipeable.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
