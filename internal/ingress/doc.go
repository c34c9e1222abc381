// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package ingress feeds broker-published events into the relay.

Backends that already publish to NATS do not need to call POST /emit-event:
the relay subscribes to a wildcard subject (default "loans.events.>") and
treats each message body exactly like an emit request.

	nats pub loans.events.pago_registrado \
	    '{"eventType":"pago_registrado","data":{"prestamo_id":12},"room":"dashboard"}'

Delivery follows the relay: core NATS (no JetStream), at-most-once, no
replay. The durable path for clients remains the change-log poll.

For single-node deployments EmbeddedServer runs a NATS server inside the
relay process so no external broker is required.
*/
package ingress
