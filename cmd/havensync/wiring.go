// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomtom215/havensync/internal/config"
	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/keeper"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/queue"
	"github.com/tomtom215/havensync/internal/target"
	"github.com/tomtom215/havensync/internal/worker"
)

// stores holds the keeper archive and the sync queue. They share one handle
// when both live in the same file.
type stores struct {
	keeperDB *sql.DB
	queueDB  *sql.DB
	keeper   *keeper.Store
	queue    *queue.Store
}

func (c *cli) openStores(ctx context.Context) (*stores, error) {
	dbCfg := c.cfg.Database

	keeperDB, err := database.Open(ctx, database.DriverSQLite, dbCfg.KeeperPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open keeper database: %w", err)
	}
	st := &stores{keeperDB: keeperDB, queueDB: keeperDB}

	if dbCfg.QueuePath != dbCfg.KeeperPath {
		queueDB, err := database.Open(ctx, database.DriverSQLite, dbCfg.QueuePath)
		if err != nil {
			database.CloseQuietly(keeperDB)
			return nil, fmt.Errorf("failed to open queue database: %w", err)
		}
		st.queueDB = queueDB
	}

	st.keeper = keeper.NewStore(st.keeperDB)
	st.queue = queue.NewStore(st.queueDB,
		queue.WithMaxAttempts(c.cfg.Queue.MaxAttempts),
		queue.WithBaseDelay(c.cfg.Queue.BaseDelay),
	)

	if err := st.keeper.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if err := st.queue.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func (s *stores) Close() {
	if s.queueDB != s.keeperDB {
		database.CloseQuietly(s.queueDB)
	}
	database.CloseQuietly(s.keeperDB)
}

// openAdapter builds the configured target transport, wrapped in a circuit
// breaker when enabled. The returned func releases the direct store.
func (c *cli) openAdapter(ctx context.Context) (target.Adapter, func(), error) {
	tc := c.cfg.Target
	var (
		adapter target.Adapter
		cleanup = func() {}
	)

	switch tc.Mode {
	case config.TargetModeRemote:
		remote, err := target.NewRemoteAdapter(target.RemoteConfig{
			BaseURL:   tc.Remote.URL,
			APIKey:    tc.Remote.APIKey,
			Timeout:   tc.Remote.Timeout,
			RateLimit: tc.Remote.RateLimit,
			Burst:     tc.Remote.Burst,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := remote.Ping(ctx); err != nil {
			logging.Warn().Err(err).Str("url", tc.Remote.URL).Msg("Remote target not reachable yet; entries will retry")
		}
		adapter = remote
	default:
		direct, db, err := target.OpenDirectAdapter(ctx, tc.Direct.Driver, tc.Direct.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := direct.EnsureSchema(ctx); err != nil {
			database.CloseQuietly(db)
			return nil, nil, err
		}
		adapter = direct
		cleanup = func() { database.CloseQuietly(db) }
	}

	if tc.CircuitBreaker.Enabled {
		adapter = target.NewCircuitBreakerAdapter(adapter, tc.CircuitBreaker)
	}
	logging.Info().Str("adapter", adapter.Name()).Str("mode", tc.Mode).Msg("Target adapter ready")
	return adapter, cleanup, nil
}

// newWorker builds the sync worker. events may be nil.
func (c *cli) newWorker(st *stores, adapter target.Adapter, events worker.EventPublisher) *worker.Worker {
	return worker.New(st.queue, st.keeper, adapter, worker.Config{
		Interval:  c.cfg.Worker.Interval,
		BatchSize: c.cfg.Worker.BatchSize,
		Events:    events,
	})
}
