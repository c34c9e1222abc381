// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package supervisor runs long-lived services under a suture v4 tree.

Both binaries build the same two-layer tree and differ only in what they
add to it:

	relay ("syncrelay")
	├── messaging-layer
	│   ├── relay-hub
	│   └── nats-ingress (if nats.enabled)
	└── api-layer
	    └── http-server

	agent ("syncrelay-agent")
	└── messaging-layer
	    └── client

Crashed services restart with suture's backoff. Supervisor events are
logged through sutureslog on the process slog logger, which is bridged to
zerolog by internal/logging.

Shutdown is driven by canceling the context passed to Serve or
ServeBackground. Services still running after TreeConfig.ShutdownTimeout
show up in UnstoppedServiceReport.

The suture.Service adapters live in the services subpackage.
*/
package supervisor
