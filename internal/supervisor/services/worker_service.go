// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/worker"
)

// StartStopper is the sync worker's lifecycle.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
	// Done is closed when the loop exits; Err explains an abnormal exit.
	Done() <-chan struct{}
	Err() error
}

// WorkerService adapts the worker's Start/Stop lifecycle to suture's Serve.
// Stop waits for an in-flight write, so shutdown never abandons one.
type WorkerService struct {
	worker StartStopper
}

// NewWorkerService wraps w.
func NewWorkerService(w StartStopper) *WorkerService {
	return &WorkerService{worker: w}
}

// Serve implements suture.Service. A Start error or a loop that dies on its
// own (a recovered panic) is returned so suture restarts the service with
// backoff.
func (s *WorkerService) Serve(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("sync worker start failed: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-s.worker.Done():
		if ctx.Err() == nil {
			loopErr := s.worker.Err()
			if err := s.worker.Stop(); err != nil && !errors.Is(err, worker.ErrNotRunning) {
				logging.Warn().Err(err).Msg("Sync worker stop after loop exit failed")
			}
			if loopErr == nil {
				loopErr = errors.New("loop exited unexpectedly")
			}
			return fmt.Errorf("sync worker: %w", loopErr)
		}
	}

	if err := s.worker.Stop(); err != nil && !errors.Is(err, worker.ErrNotRunning) {
		return fmt.Errorf("sync worker stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *WorkerService) String() string {
	return "sync-worker"
}
