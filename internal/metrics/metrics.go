// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package metrics registers the Prometheus collectors for the relay and the
// client agents and exposes small helpers for recording them.
//
// Collectors live on the default registry and are served at /metrics by the
// relay API.
package metrics

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Relay Metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Current number of connected websocket clients",
		},
	)

	RelayEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_emitted_total",
			Help: "Total number of events accepted for broadcast",
		},
		[]string{"event_type", "source"},
	)

	RelayMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Total number of messages queued to client send buffers",
		},
	)

	RelayMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Total number of messages dropped because a client buffer was full",
		},
	)

	RelayMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total number of messages received from clients",
		},
		[]string{"type"},
	)

	// Ingress Metrics
	IngressMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_messages_total",
			Help: "Total number of broker messages handled by the ingress",
		},
		[]string{"result"}, // "emitted", "invalid"
	)

	// Sync Agent Metrics
	SyncPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_poll_duration_seconds",
			Help:    "Duration of sync polls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	SyncPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_polls_total",
			Help: "Total number of sync polls by outcome",
		},
		[]string{"result"}, // "success", "error", "skipped"
	)

	SyncChangesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_changes_received_total",
			Help: "Total number of change records received by table",
		},
		[]string{"table"},
	)

	SyncChangesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_changes_duplicate_total",
			Help: "Total number of change records suppressed as already dispatched",
		},
	)

	SyncAckErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_ack_errors_total",
			Help: "Total number of failed mark_synced acknowledgments",
		},
	)

	SyncConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_consecutive_failures",
			Help: "Current number of consecutive failed polls",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful poll",
		},
	)

	SyncFullResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_full_resyncs_total",
			Help: "Total number of forced full resyncs",
		},
	)

	// Listener Metrics
	ListenerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_panics_total",
			Help: "Total number of recovered panics in change listeners",
		},
		[]string{"topic"},
	)

	// Realtime Agent Metrics
	RealtimeState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Realtime connection state (0=disconnected, 1=connecting, 2=open, 3=failed)",
		},
	)

	RealtimeConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connect_attempts_total",
			Help: "Total number of realtime connection attempts by outcome",
		},
		[]string{"result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBroadcast records one fan-out: delivered messages and dropped ones.
func RecordBroadcast(delivered, dropped int) {
	RelayMessagesSent.Add(float64(delivered))
	if dropped > 0 {
		RelayMessagesDropped.Add(float64(dropped))
	}
}

// RecordPoll records the outcome of one sync poll.
func RecordPoll(duration time.Duration, changes map[string]int, err error) {
	SyncPollDuration.Observe(duration.Seconds())
	if err != nil {
		SyncPolls.WithLabelValues(pollErrorType(err)).Inc()
		return
	}
	SyncPolls.WithLabelValues("success").Inc()
	for table, n := range changes {
		SyncChangesReceived.WithLabelValues(table).Add(float64(n))
	}
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordPollSkipped records a poll suppressed because one was in flight.
func RecordPollSkipped() {
	SyncPolls.WithLabelValues("skipped").Inc()
}

// pollErrorType buckets poll errors into a small label set.
func pollErrorType(err error) string {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case strings.Contains(err.Error(), "circuit breaker"):
		return "breaker_open"
	case strings.Contains(err.Error(), "status"):
		return "http_status"
	case strings.Contains(err.Error(), "decode"):
		return "decode"
	default:
		return "error"
	}
}

// SetConsecutiveFailures records the current failure counter.
func SetConsecutiveFailures(n int) {
	SyncConsecutiveFailures.Set(float64(n))
}

// RecordConnectAttempt records a realtime dial outcome.
func RecordConnectAttempt(err error) {
	if err != nil {
		RealtimeConnectAttempts.WithLabelValues("error").Inc()
		return
	}
	RealtimeConnectAttempts.WithLabelValues("success").Inc()
}
