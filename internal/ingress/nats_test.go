// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package ingress

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/relay"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.EmitRequest
	hub    *relay.Hub
}

func (e *recordingEmitter) Emit(ctx context.Context, req *models.EmitRequest, source string) (relay.BroadcastResult, error) {
	res, err := e.hub.Emit(ctx, req, source)
	if err == nil {
		e.mu.Lock()
		e.events = append(e.events, *req)
		e.mu.Unlock()
	}
	return res, err
}

func (e *recordingEmitter) received() []models.EmitRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.EmitRequest(nil), e.events...)
}

func startServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	if !srv.IsRunning() {
		t.Fatal("server not running")
	}
	return srv
}

func testNATSConfig() *config.NATSConfig {
	return &config.NATSConfig{
		Enabled:          true,
		Subject:          "loans.events.>",
		QueueGroup:       "relay",
		SubscribersCount: 1,
		MaxReconnects:    -1,
		ReconnectWait:    100 * time.Millisecond,
	}
}

func TestNATSIngressEmitsPublishedEvents(t *testing.T) {
	srv := startServer(t)
	emitter := &recordingEmitter{hub: relay.NewHub(relay.DefaultOptions())}

	in, err := NewNATSIngress(testNATSConfig(), srv.ClientURL(), emitter)
	if err != nil {
		t.Fatalf("NewNATSIngress: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = in.Close()
	})

	nc, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	invalid := metrics.IngressMessages.WithLabelValues(resultInvalid)
	invalidBefore := testutil.ToFloat64(invalid)

	// The subscription is set up asynchronously by Run, so publish until
	// the first event lands.
	deadline := time.Now().Add(5 * time.Second)
	for len(emitter.received()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no event received through NATS")
		}
		if err := nc.Publish("loans.events.pago_registrado", []byte(`{"eventType":"pago_registrado","data":{"monto":50},"room":"dashboard"}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		_ = nc.Flush()
		time.Sleep(50 * time.Millisecond)
	}

	got := emitter.received()[0]
	if got.EventType != models.EventPaymentRecorded || got.Room != models.RoomDashboard || string(got.Body()) != `{"monto":50}` {
		t.Errorf("received %+v", got)
	}

	for _, body := range []string{`not json`, `{"eventType":"ping"}`} {
		if err := nc.Publish("loans.events.bad", []byte(body)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = nc.Flush()

	deadline = time.Now().Add(5 * time.Second)
	for testutil.ToFloat64(invalid)-invalidBefore < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("invalid counter delta = %v, want 2", testutil.ToFloat64(invalid)-invalidBefore)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewNATSIngressRequiresEmitter(t *testing.T) {
	if _, err := NewNATSIngress(testNATSConfig(), "nats://127.0.0.1:1", nil); err == nil {
		t.Error("expected error for nil emitter")
	}
}

func TestEmbeddedServerShutdown(t *testing.T) {
	srv, err := NewEmbeddedServer("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if srv.ClientURL() == "" {
		t.Error("empty client URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if srv.IsRunning() {
		t.Error("server still running after shutdown")
	}
}
