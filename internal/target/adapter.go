// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package target writes discoveries into the authoritative Haven store.
//
// Two transports implement Adapter: DirectAdapter opens the store in-process,
// RemoteAdapter POSTs to a companion process (see Server) on the store's
// host. Both receive the same models.TargetDiscovery and resolve system,
// planet and moon linkage the same way: a name that does not resolve leaves
// the id null and the write proceeds.
//
// Failures wrap ErrUnreachable (retry later) or ErrRejected (retrying will
// not help). Use errors.Is to tell them apart.
package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/havensync/internal/models"
)

// Error kinds.
var (
	// ErrUnreachable means the store could not be reached or did not answer
	// in time.
	ErrUnreachable = errors.New("target store unreachable")

	// ErrRejected means the store refused the write.
	ErrRejected = errors.New("target store rejected write")

	// ErrSystemNotFound is returned by system lookups for an unknown name.
	ErrSystemNotFound = errors.New("system not found")

	// ErrDiscoveryNotFound is returned by discovery lookups for an unknown id.
	ErrDiscoveryNotFound = errors.New("discovery not found")
)

// Adapter performs the cross-store write.
type Adapter interface {
	// Write inserts d and returns the ids the store assigned or resolved.
	Write(ctx context.Context, d *models.TargetDiscovery) (*WriteResult, error)

	// Name identifies the transport in logs and metrics.
	Name() string
}

// WriteResult carries the authoritative discovery id and the linkage that was
// resolved for it. Linkage ids are nil on a lookup miss.
type WriteResult struct {
	DiscoveryID int64  `json:"discovery_id"`
	SystemID    *int64 `json:"system_id"`
	PlanetID    *int64 `json:"planet_id"`
	MoonID      *int64 `json:"moon_id"`
}

func unreachable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnreachable, fmt.Sprintf(format, args...))
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether a write error is worth retrying. Anything that
// is not explicitly rejected is treated as transient.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrRejected)
}
