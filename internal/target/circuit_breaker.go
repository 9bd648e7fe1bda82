// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/havensync/internal/config"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/metrics"
	"github.com/tomtom215/havensync/internal/models"
)

// CircuitBreakerAdapter wraps an Adapter with a circuit breaker so an
// unavailable store is not hammered by every due entry in a batch.
//
// Only ErrUnreachable counts against the breaker. A rejected write proves
// the store is up, so it is recorded as a success.
//
// While open, Write fails fast with an error wrapping both ErrUnreachable and
// gobreaker.ErrOpenState, which the worker treats as a transient failure.
type CircuitBreakerAdapter struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker[*WriteResult]
	name string
}

// NewCircuitBreakerAdapter wraps next. Zero-valued settings fall back to
// 3 half-open requests, a 1 minute window, a 2 minute open timeout and a
// 60% failure rate over at least 10 requests.
func NewCircuitBreakerAdapter(next Adapter, cfg config.CircuitBreakerConfig) *CircuitBreakerAdapter {
	cbName := "target-" + next.Name()

	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	failureRate := cfg.FailureRate
	if failureRate <= 0 || failureRate > 1 {
		failureRate = 0.6
	}

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*WriteResult](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}

			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := ratio >= failureRate

			if shouldTrip {
				logging.Warn().
					Str("breaker", cbName).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerAdapter{next: next, cb: cb, name: cbName}
}

// Name implements Adapter and reports the wrapped transport.
func (c *CircuitBreakerAdapter) Name() string {
	return c.next.Name()
}

// State returns the breaker state as closed, half-open or open.
func (c *CircuitBreakerAdapter) State() string {
	return stateToString(c.cb.State())
}

// Write implements Adapter with circuit breaker protection.
func (c *CircuitBreakerAdapter) Write(ctx context.Context, d *models.TargetDiscovery) (*WriteResult, error) {
	res, err := c.cb.Execute(func() (*WriteResult, error) {
		return c.next.Write(ctx, d)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			logging.Warn().Err(err).Str("breaker", c.name).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}

		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		counts := c.cb.Counts()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(float64(counts.ConsecutiveFailures))
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(0)
	return res, nil
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
