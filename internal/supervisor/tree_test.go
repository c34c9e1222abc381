// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*mockService)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarted(t *testing.T, svcs ...*mockService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for _, svc := range svcs {
		for svc.startCount.Load() < 1 {
			if time.Now().After(deadline) {
				t.Fatalf("%s was not started", svc)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestNewSupervisorTreeDefaults(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want %+v", tree.config, DefaultTreeConfig())
	}

	named, _ := NewSupervisorTree(testLogger(), TreeConfig{Name: "syncrelay-agent"})
	if named.config.Name != "syncrelay-agent" {
		t.Errorf("name = %q", named.config.Name)
	}
}

func TestNewSupervisorTreeRequiresLogger(t *testing.T) {
	if _, err := NewSupervisorTree(nil, TreeConfig{}); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})

	hub := newMockService("relay-hub")
	ingress := newMockService("nats-ingress")
	httpSvc := newMockService("http-server")
	tree.AddMessagingService(hub)
	tree.AddMessagingService(ingress)
	tree.AddAPIService(httpSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitStarted(t, hub, ingress, httpSvc)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
	for _, svc := range []*mockService{hub, ingress, httpSvc} {
		if svc.stopCount.Load() != svc.startCount.Load() {
			t.Errorf("%s: started %d, stopped %d", svc, svc.startCount.Load(), svc.stopCount.Load())
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("unstopped = %v, err = %v", report, err)
	}
}

func TestFailingServiceIsRestartedInIsolation(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	failing := newMockService("nats-ingress")
	failing.maxFails = 2
	stable := newMockService("http-server")
	tree.AddMessagingService(failing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for failing.startCount.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("failing service started %d times, want 3", failing.startCount.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := stable.startCount.Load(); n != 1 {
		t.Errorf("stable service started %d times, want 1", n)
	}
}

func TestRemoveMessagingService(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})
	svc := newMockService("client")
	token := tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)
	waitStarted(t, svc)

	if err := tree.RemoveMessagingService(token); err != nil {
		t.Fatalf("RemoveMessagingService: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for svc.stopCount.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("removed service was not stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
