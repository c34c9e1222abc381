// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package relay is the websocket side of the Notification Relay.

It keeps an in-memory registry of open connections and fans domain events
out to all of them or to a named room. Nothing is queued or replayed: a
connection that is closed, or whose outbound queue is full, when a
broadcast happens never sees that event. Clients recover missed state
through the durable sync path.

Architecture:

	         POST /emit-event, NATS ingress
	                    │
	              ┌─────▼─────┐
	              │    Hub    │  RWMutex registry, rooms
	              └─────┬─────┘
	      ┌─────────────┼─────────────┐
	 ┌────▼────┐   ┌────▼────┐   ┌────▼────┐
	 │ Client  │   │ Client  │   │ Client  │
	 │dashboard│   │collector│   │collector│
	 └─────────┘   └─────────┘   └─────────┘

Each client has two goroutines: readPump handles register_client, join_room
and ping; writePump drains the outbound queue and sends keepalive pings.

Protocol:

On registration the hub sends

	{"type":"connection_status","data":{"status":"connected","socketId":"..."},"timestamp":"..."}

A client declares itself with

	{"type":"register_client","data":{"clientType":"mobile","platform":"android"}}

and is joined to the room for its type: mobile clients to "collectors",
dashboards to "dashboard". Additional rooms are joined with join_room.

Domain events are delivered as

	{"type":"pago_registrado","data":{...},"timestamp":"..."}

Usage:

	hub := relay.NewHub(relay.DefaultOptions())
	go hub.RunWithContext(ctx)

	client := relay.NewClient(hub, conn)
	hub.Register <- client
	client.Start()

	res := hub.Broadcast(models.EventPaymentRecorded, data, models.RoomDashboard)
*/
package relay
