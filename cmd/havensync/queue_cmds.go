// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomtom215/havensync/internal/api"
	"github.com/tomtom215/havensync/internal/queue"
	"github.com/tomtom215/havensync/internal/target"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var meta map[string]string
	cmd := &cobra.Command{
		Use:     "enqueue <discovery-id>",
		GroupID: "queue",
		Short:   "Queue a discovery for sync",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("discovery id", args[0])
			if err != nil {
				return err
			}
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			metadata := make(map[string]any, len(meta))
			for k, v := range meta {
				metadata[k] = v
			}
			queueID, err := st.queue.Enqueue(cmd.Context(), id, metadata)
			if errors.Is(err, queue.ErrAlreadyQueued) {
				fmt.Fprintf(cmd.OutOrStdout(), "discovery %d is already queued\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{
				"queue_id":     queueID,
				"discovery_id": id,
			})
		},
	}
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata recorded with the entry (key=value)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "queue",
		Short:   "Print queue statistics as JSON",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.queue.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func (c *cli) failedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "failed",
		GroupID: "queue",
		Short:   "List entries that exhausted their attempts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				limit = c.cfg.API.DefaultFailed
			}
			if limit <= 0 || limit > api.MaxFailedLimit {
				return fmt.Errorf("limit must be between 1 and %d", api.MaxFailedLimit)
			}
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.queue.GetFailedItems(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if items == nil {
				items = []queue.FailedItem{}
			}
			return printJSON(cmd.OutOrStdout(), api.FailedResponse{Items: items, Count: len(items)})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to list (default api.default_failed_limit)")
	return cmd
}

func (c *cli) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "retry <queue-id>",
		GroupID: "queue",
		Short:   "Reset a failed entry to pending with a fresh attempt budget",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("queue id", args[0])
			if err != nil {
				return err
			}
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			entry, err := st.queue.RetryFailedItem(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("retry queue item %d: %w", id, err)
			}
			return printJSON(cmd.OutOrStdout(), api.RetryResponse{Success: true, QueueItem: entry})
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sync <discovery-id>",
		GroupID: "queue",
		Short:   "Sync one discovery now, queueing it first if needed",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("discovery id", args[0])
			if err != nil {
				return err
			}
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			adapter, closeAdapter, err := c.openAdapter(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAdapter()

			result, err := c.newWorker(st, adapter, nil).SyncDiscovery(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func (c *cli) cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:     "cleanup",
		GroupID: "queue",
		Short:   "Delete synced entries older than the retention window",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = c.cfg.Queue.RetentionDays
			}
			st, err := c.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			deleted, err := st.queue.CleanupOldSyncedItems(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": deleted})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default queue.retention_days)")
	return cmd
}

func (c *cli) initTargetCmd() *cobra.Command {
	var driver, path string
	cmd := &cobra.Command{
		Use:     "init-target",
		GroupID: "run",
		Short:   "Create the authoritative discoveries schema",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if driver == "" {
				driver = c.cfg.Target.Direct.Driver
			}
			if path == "" {
				path = c.cfg.Target.Direct.Path
			}
			store, db, err := target.OpenDirectAdapter(cmd.Context(), driver, path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"driver": store.Driver(),
				"path":   path,
				"stats":  stats,
			})
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "sqlite or duckdb (default target.direct.driver)")
	cmd.Flags().StringVar(&path, "path", "", "store location (default target.direct.path)")
	return cmd
}

func parseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}
