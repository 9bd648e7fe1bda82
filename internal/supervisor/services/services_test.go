// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/havensync/internal/worker"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*WorkerService)(nil)
)

// ============================================================================
// HTTPServerService
// ============================================================================

type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	m.stopOnce.Do(func() { close(m.stopCh) })
	return m.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService("status-api", ":8080", srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-srv.started:
	case <-time.After(time.Second):
		t.Fatal("server never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if srv.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", srv.shutdownCount.Load())
	}
}

func TestHTTPServerService_ListenError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService("status-api", ":8080", srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() error = %v, want wrapped listen error", err)
	}
}

func TestHTTPServerService_ShutdownError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.shutdownErr = errors.New("connections did not drain")
	svc := NewHTTPServerService("companion", ":8081", srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-srv.started
	cancel()

	if err := <-done; !errors.Is(err, srv.shutdownErr) {
		t.Errorf("Serve() error = %v, want shutdown error", err)
	}
}

func TestHTTPServerService_DefaultTimeout(t *testing.T) {
	svc := NewHTTPServerService("x", "", newMockHTTPServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s", svc.shutdownTimeout)
	}
	if svc.String() != "x" {
		t.Errorf("String() = %q", svc.String())
	}
}

// ============================================================================
// WorkerService
// ============================================================================

type mockWorker struct {
	started  atomic.Bool
	stopped  atomic.Bool
	startErr error
	stopErr  error

	// done and loopErr simulate the loop dying on its own.
	done    chan struct{}
	loopErr error
}

func (m *mockWorker) Done() <-chan struct{} { return m.done }

func (m *mockWorker) Err() error { return m.loopErr }

func (m *mockWorker) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started.Store(true)
	return nil
}

func (m *mockWorker) Stop() error {
	m.stopped.Store(true)
	return m.stopErr
}

func TestWorkerService_Lifecycle(t *testing.T) {
	w := &mockWorker{}
	svc := NewWorkerService(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !w.started.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !w.started.Load() {
		t.Fatal("worker not started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return")
	}
	if !w.stopped.Load() {
		t.Error("worker not stopped")
	}
}

func TestWorkerService_StartError(t *testing.T) {
	w := &mockWorker{startErr: errors.New("queue unavailable")}
	err := NewWorkerService(w).Serve(context.Background())
	if !errors.Is(err, w.startErr) {
		t.Errorf("Serve() error = %v, want start error", err)
	}
}

func TestWorkerService_StopErrors(t *testing.T) {
	tests := []struct {
		name    string
		stopErr error
		wantErr error
	}{
		{name: "not running is ignored", stopErr: worker.ErrNotRunning, wantErr: context.Canceled},
		{name: "other errors surface", stopErr: errors.New("wedged"), wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockWorker{stopErr: tt.stopErr}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := NewWorkerService(w).Serve(ctx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Serve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if !errors.Is(err, tt.stopErr) {
				t.Errorf("Serve() error = %v, want wrapped %v", err, tt.stopErr)
			}
		})
	}
}

func TestWorkerService_LoopPanicIsReturned(t *testing.T) {
	w := &mockWorker{
		done:    make(chan struct{}),
		loopErr: fmt.Errorf("%w: nil map write", worker.ErrLoopPanicked),
	}
	close(w.done)

	err := NewWorkerService(w).Serve(context.Background())
	if !errors.Is(err, worker.ErrLoopPanicked) {
		t.Fatalf("Serve() error = %v, want ErrLoopPanicked", err)
	}
	if !w.stopped.Load() {
		t.Error("worker state not reset with Stop before returning")
	}
}

func TestWorkerService_RestartedBySupervisorAfterPanic(t *testing.T) {
	var starts atomic.Int32
	w := &flakyWorker{starts: &starts}

	sup := suture.New("test", suture.Spec{
		FailureBackoff:   time.Millisecond,
		FailureThreshold: 100,
	})
	sup.Add(NewWorkerService(w))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for starts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := starts.Load(); got < 2 {
		t.Fatalf("worker started %d times, want a restart after the panic", got)
	}
	cancel()
	<-errCh
}

// flakyWorker's first loop dies with a panic; later loops run until stopped.
type flakyWorker struct {
	starts *atomic.Int32

	mu      sync.Mutex
	done    chan struct{}
	loopErr error
}

func (f *flakyWorker) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = make(chan struct{})
	f.loopErr = nil
	if f.starts.Add(1) == 1 {
		f.loopErr = fmt.Errorf("%w: adapter bug", worker.ErrLoopPanicked)
		close(f.done)
	}
	return nil
}

func (f *flakyWorker) Stop() error { return nil }

func (f *flakyWorker) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *flakyWorker) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loopErr
}
