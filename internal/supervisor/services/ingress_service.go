// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/syncrelay/internal/logging"
)

// IngressRunner is satisfied by *ingress.NATSIngress.
type IngressRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// Broker is satisfied by *ingress.EmbeddedServer.
type Broker interface {
	Shutdown(ctx context.Context) error
}

// IngressFactory builds a fresh ingress. A closed watermill subscriber
// cannot subscribe again, so every restart needs a new one.
type IngressFactory func() (IngressRunner, error)

// NATSIngressService supervises the NATS ingress and, when the relay runs
// its own broker, shuts that broker down once the ingress is gone.
type NATSIngressService struct {
	factory         IngressFactory
	broker          Broker
	shutdownTimeout time.Duration
	name            string
}

// NewNATSIngressService wraps factory. broker may be nil when the relay
// connects to an external NATS server.
func NewNATSIngressService(factory IngressFactory, broker Broker, shutdownTimeout time.Duration) *NATSIngressService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSIngressService{
		factory:         factory,
		broker:          broker,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-ingress",
	}
}

// Serve implements suture.Service. The broker is only shut down on
// cancellation, never on an ingress failure, so a restart can reconnect.
func (s *NATSIngressService) Serve(ctx context.Context) error {
	in, err := s.factory()
	if err != nil {
		return fmt.Errorf("nats ingress setup failed: %w", err)
	}

	runErr := in.Run(ctx)
	if cerr := in.Close(); cerr != nil {
		logging.Warn().Err(cerr).Str("component", s.name).Msg("closing NATS subscriber")
	}

	if ctx.Err() == nil {
		if runErr == nil {
			runErr = errors.New("subscription closed")
		}
		return fmt.Errorf("nats ingress stopped: %w", runErr)
	}

	if s.broker != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.broker.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("embedded NATS shutdown failed: %w", err)
		}
	}
	return ctx.Err()
}

func (s *NATSIngressService) String() string {
	return s.name
}
