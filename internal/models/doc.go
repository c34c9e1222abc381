// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package models defines the data shapes shared by the relay and the client agents.

Pull path (Change Record Store HTTP API):

	GET  /sync?last_sync=<ISO8601>  -> SyncResponse{success, cambios, timestamp_actual}
	POST /mark_synced {ids}         -> AckResponse{success}
	GET  /sync_stats                -> SyncStatsResponse{stats{cambios_pendientes, ultimo_cambio}}
	POST /clean_old_sync?dias=N     -> AckResponse{success, message}

Push path (Notification Relay):

	client -> relay   Message{type: register_client|join_room|ping, data}
	relay  -> client  Message{type: connection_status|pago_registrado|..., data, timestamp}
	backend -> relay  POST /emit-event EmitRequest -> EmitResponse

Field names on the store API follow the store's Spanish column naming
(tabla, accion, registro_id). The Go side uses English identifiers.
*/
package models
