// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tomtom215/havensync/internal/api"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/metrics"
	"github.com/tomtom215/havensync/internal/supervisor"
	"github.com/tomtom215/havensync/internal/supervisor/services"
	"github.com/tomtom215/havensync/internal/target"
	"github.com/tomtom215/havensync/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "run",
		Short:   "Run the sync worker and the Status API",
		Long: `Run the sync worker and the Status API under one supervisor tree.

The worker drains due queue entries into the configured target every
worker.interval. Set worker.enabled=false to serve only the API; health and
status then report 503.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context())
		},
	}
}

func (c *cli) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	st, err := c.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	hub := websocket.NewHub()
	tree.AddAPIService(hub)

	// syncWorker stays a nil interface when disabled so the API sees no worker.
	var syncWorker api.SyncWorker
	if c.cfg.Worker.Enabled {
		adapter, closeAdapter, err := c.openAdapter(ctx)
		if err != nil {
			return err
		}
		defer closeAdapter()

		w := c.newWorker(st, adapter, hub)
		tree.AddWorkerService(services.NewWorkerService(w))
		syncWorker = w
	} else {
		logging.Warn().Msg("Sync worker disabled; serving the Status API only")
	}

	router := api.NewRouter(api.NewHandler(st.queue, syncWorker, c.cfg.API.DefaultFailed), c.cfg.API).
		WithEventStream(hub)
	srv := &http.Server{
		Addr:              c.cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.cfg.Server.Timeout,
		WriteTimeout:      c.cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService("status-api", srv.Addr, srv, shutdownTimeout))

	logging.Info().
		Str("version", version).
		Str("addr", srv.Addr).
		Bool("worker", c.cfg.Worker.Enabled).
		Msg("Starting havensync")

	return c.serveTree(ctx, tree)
}

func (c *cli) companionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "companion",
		GroupID: "run",
		Short:   "Run the HTTP API that remote-mode workers write through",
		Long: `Run the companion API in front of the authoritative discoveries store.

Remote-mode workers POST discoveries here instead of opening the store
themselves. Every route except /api/health and /metrics requires
companion.api_key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runCompanion(cmd.Context())
		},
	}
}

func (c *cli) runCompanion(ctx context.Context) error {
	if err := c.cfg.ValidateCompanion(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	cc := c.cfg.Companion
	store, db, err := target.OpenDirectAdapter(ctx, cc.Driver, cc.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	server := target.NewServer(store, cc.APIKey)
	server.RateLimit = c.cfg.API.RateLimitReqs

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Handler())

	srv := &http.Server{
		Addr:              cc.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.cfg.Server.Timeout,
		WriteTimeout:      c.cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddAPIService(services.NewHTTPServerService("companion-api", srv.Addr, srv, shutdownTimeout))

	logging.Info().
		Str("addr", srv.Addr).
		Str("driver", store.Driver()).
		Str("path", cc.Path).
		Msg("Starting companion API")

	return c.serveTree(ctx, tree)
}

// serveTree blocks until ctx is canceled and reports services that did not
// stop in time.
func (c *cli) serveTree(ctx context.Context, tree *supervisor.Tree) error {
	err := <-tree.ServeBackground(ctx)

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop before shutdown timeout")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited")
		return err
	}
	logging.Info().Msg("Shutdown complete")
	return nil
}
