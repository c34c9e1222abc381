// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/syncrelay/internal/relay"
)

var _ suture.Service = (*RelayHubService)(nil)

func TestRelayHubServiceRunsHubUntilCanceled(t *testing.T) {
	hub := relay.NewHub(relay.DefaultOptions())
	svc := NewRelayHubService(hub)
	if svc.String() != "relay-hub" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	// Broadcast works whether or not the loop has started.
	if res := hub.Broadcast("prestamo_creado", nil, ""); res.Connected != 0 {
		t.Errorf("connected = %d, want 0", res.Connected)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
}
