// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// mockService runs until canceled, failing the first failures times.
type mockService struct {
	name     string
	failures int32
	starts   atomic.Int32
}

func (m *mockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	if n <= m.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNewTree_Defaults(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{})
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults", tree.config)
	}

	custom := TreeConfig{FailureThreshold: 2, FailureDecay: 1, FailureBackoff: time.Second, ShutdownTimeout: time.Second}
	if got := NewTree(quietLogger(), custom).config; got != custom {
		t.Errorf("config = %+v, want %+v", got, custom)
	}
}

func TestTree_StartsBothLayers(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	w := &mockService{name: "worker"}
	a := &mockService{name: "api"}
	tree.AddWorkerService(w)
	tree.AddAPIService(a)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, func() bool { return w.starts.Load() > 0 && a.starts.Load() > 0 })
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTree_RestartsFailingServiceInIsolation(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	flaky := &mockService{name: "flaky-worker", failures: 2}
	stable := &mockService{name: "status-api"}
	tree.AddWorkerService(flaky)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, func() bool { return flaky.starts.Load() >= 3 && stable.starts.Load() >= 1 })
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("api layer started %d times, want 1", got)
	}
}
