// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package api provides the HTTP surface of the Notification Relay.

Routes:

	GET  /ws                  websocket endpoint for apps and dashboards
	POST /emit-event          backend ingress {eventType, data, room?}
	POST /events              alias of /emit-event
	GET  /health              {status, uptime, connectedClients}
	GET  /stats               connection, room and memory statistics
	GET  /stats/connections   one entry per open connection
	GET  /metrics             Prometheus exposition

Middleware stack, outermost first: request ID, access log, real IP, panic
recovery, CORS, then per-group rate limiting and Prometheus
instrumentation. The websocket route skips rate limiting so reconnect
storms after a relay restart are not rejected.
*/
package api
