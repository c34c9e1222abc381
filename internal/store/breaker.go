// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package store

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
)

var _ API = (*BreakerClient)(nil)

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	Name string

	// MinRequests within Interval before the failure ratio is considered.
	MinRequests  uint32
	FailureRatio float64

	// Interval resets counts while closed. Timeout is the open period
	// before a half-open probe.
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultBreakerSettings suit a poll every few seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "change-store",
		MinRequests:  5,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
	}
}

// BreakerClient wraps an API with a circuit breaker. Client errors (4xx)
// and caller cancellation do not count as failures.
type BreakerClient struct {
	api  API
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// NewBreakerClient wraps api.
func NewBreakerClient(api API, s BreakerSettings) *BreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().
					Str("breaker", s.Name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerClient{api: api, cb: cb, name: s.Name}
}

// isSuccessful decides which errors count against the breaker.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrRejected) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError && se.Code != http.StatusTooManyRequests
	}
	return false
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Changes implements API.
func (b *BreakerClient) Changes(ctx context.Context, since time.Time) (*models.SyncResponse, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.api.Changes(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.SyncResponse), nil
}

// MarkSynced implements API.
func (b *BreakerClient) MarkSynced(ctx context.Context, ids []int64) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.api.MarkSynced(ctx, ids)
	})
	return err
}

// Stats implements API.
func (b *BreakerClient) Stats(ctx context.Context) (*models.SyncStats, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.api.Stats(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.SyncStats), nil
}

// CleanOld implements API.
func (b *BreakerClient) CleanOld(ctx context.Context, days int) (string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.api.CleanOld(ctx, days)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

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
