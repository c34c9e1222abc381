// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Command relay runs the Notification Relay: the websocket hub with its
// rooms, the HTTP emit, health and stats endpoints, and the optional NATS
// ingress.
//
// Configuration is read with koanf from defaults, then config.yaml (or
// CONFIG_PATH), then environment variables such as RELAY_PORT or
// NATS_ENABLED.
//
//	RELAY_PORT=3001 NATS_ENABLED=true NATS_EMBEDDED_SERVER=true ./relay
//
// SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains
// for relay.shutdown_timeout and the hub closes every websocket with a
// going-away frame.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/syncrelay/internal/api"
	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/ingress"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/relay"
	"github.com/tomtom215/syncrelay/internal/supervisor"
	"github.com/tomtom215/syncrelay/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("addr", cfg.Relay.Addr()).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting syncrelay relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		Name:            "syncrelay",
		ShutdownTimeout: cfg.Relay.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	hub := relay.NewHub(relay.Options{
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		WriteWait:      cfg.Relay.WriteWait,
		PongWait:       cfg.Relay.PongWait,
	})
	tree.AddMessagingService(services.NewRelayHubService(hub))

	if cfg.NATS.Enabled {
		addIngress(tree, &cfg.NATS, hub, cfg.Relay.ShutdownTimeout)
	}

	router := api.NewRouter(api.NewHandler(hub, &cfg.Relay), &cfg.Relay)
	server := &http.Server{
		Addr:              cfg.Relay.Addr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Relay.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	wait(tree, tree.ServeBackground(ctx))
	logging.Info().Msg("Relay stopped gracefully")
}

// addIngress starts the embedded broker when configured and supervises
// the NATS subscriber feeding hub.
func addIngress(tree *supervisor.SupervisorTree, cfg *config.NATSConfig, hub *relay.Hub, shutdownTimeout time.Duration) {
	url := cfg.URL
	var broker services.Broker
	if cfg.EmbeddedServer {
		srv, err := ingress.NewEmbeddedServer(cfg.Host, cfg.Port)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		url = srv.ClientURL()
		broker = srv
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	factory := func() (services.IngressRunner, error) {
		in, err := ingress.NewNATSIngress(cfg, url, hub)
		if err != nil {
			return nil, err
		}
		return in, nil
	}
	tree.AddMessagingService(services.NewNATSIngressService(factory, broker, shutdownTimeout))
	logging.Info().Str("subject", cfg.Subject).Str("url", url).Msg("NATS ingress added to supervisor tree")
}

// wait blocks until the tree has stopped and reports services that did
// not stop in time.
func wait(tree *supervisor.SupervisorTree, errCh <-chan error) {
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
}
