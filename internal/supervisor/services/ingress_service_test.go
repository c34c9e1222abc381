// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*NATSIngressService)(nil)

type mockIngress struct {
	runErr error
	closes atomic.Int32
}

func (m *mockIngress) Run(ctx context.Context) error {
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockIngress) Close() error {
	m.closes.Add(1)
	return nil
}

type mockBroker struct {
	shutdowns atomic.Int32
}

func (m *mockBroker) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func TestNATSIngressServiceShutdownOrder(t *testing.T) {
	in := &mockIngress{}
	broker := &mockBroker{}
	svc := NewNATSIngressService(func() (IngressRunner, error) { return in, nil }, broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if in.closes.Load() != 1 || broker.shutdowns.Load() != 1 {
		t.Errorf("closes = %d, shutdowns = %d", in.closes.Load(), broker.shutdowns.Load())
	}
}

func TestNATSIngressServiceFailureKeepsBroker(t *testing.T) {
	runErr := errors.New("nats: connection closed")
	broker := &mockBroker{}
	var built atomic.Int32
	svc := NewNATSIngressService(func() (IngressRunner, error) {
		built.Add(1)
		return &mockIngress{runErr: runErr}, nil
	}, broker, 0)

	for i := 0; i < 2; i++ {
		if err := svc.Serve(context.Background()); !errors.Is(err, runErr) {
			t.Fatalf("Serve #%d = %v", i, err)
		}
	}
	if built.Load() != 2 {
		t.Errorf("factory called %d times, want one per Serve", built.Load())
	}
	if broker.shutdowns.Load() != 0 {
		t.Error("broker shut down after an ingress failure")
	}
}

func TestNATSIngressServiceFactoryError(t *testing.T) {
	setupErr := errors.New("no servers available")
	svc := NewNATSIngressService(func() (IngressRunner, error) { return nil, setupErr }, nil, time.Second)
	if err := svc.Serve(context.Background()); !errors.Is(err, setupErr) {
		t.Errorf("err = %v", err)
	}
	if svc.String() != "nats-ingress" {
		t.Errorf("String() = %q", svc.String())
	}
}
