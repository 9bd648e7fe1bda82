// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	a := GenerateCorrelationID()
	b := GenerateCorrelationID()
	if len(a) != 8 {
		t.Errorf("correlation id length = %d, want 8", len(a))
	}
	if a == b {
		t.Errorf("expected distinct ids, got %q twice", a)
	}
}

func TestGenerateRequestID(t *testing.T) {
	t.Parallel()

	if id := GenerateRequestID(); len(id) != 36 {
		t.Errorf("request id length = %d, want 36", len(id))
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("empty context correlation id = %q", got)
	}
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("empty context request id = %q", got)
	}

	ctx = ContextWithCorrelationID(ctx, "batch-01")
	ctx = ContextWithRequestID(ctx, "req-1")
	if got := CorrelationIDFromContext(ctx); got != "batch-01" {
		t.Errorf("correlation id = %q, want batch-01", got)
	}
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}

	ctx = ContextWithNewCorrelationID(context.Background())
	if got := CorrelationIDFromContext(ctx); len(got) != 8 {
		t.Errorf("generated correlation id = %q", got)
	}
}

func TestCtx_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { SetLogger(prev) })

	ctx := ContextWithRequestID(ContextWithCorrelationID(context.Background(), "abc12345"), "req-9")
	Ctx(ctx).Warn().Msg("with ids")

	output := buf.String()
	if !strings.Contains(output, `"correlation_id":"abc12345"`) {
		t.Errorf("missing correlation_id: %s", output)
	}
	if !strings.Contains(output, `"request_id":"req-9"`) {
		t.Errorf("missing request_id: %s", output)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { SetLogger(prev) })

	l := WithComponent("sync-worker")
	l.Warn().Msg("component line")

	if !strings.Contains(buf.String(), `"component":"sync-worker"`) {
		t.Errorf("missing component field: %s", buf.String())
	}
}
