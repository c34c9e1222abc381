// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package realtime implements the client side of the relay connection.

An Agent dials the relay websocket, registers its client type, optionally
joins an extra room, and republishes every relay message to local
subscribers keyed by message type:

	agent := realtime.New(cfg)
	sub := agent.On(models.EventPaymentRecorded, func(e models.NotificationEvent) {
	    tray.Show(e)
	})
	agent.Connect()
	defer agent.Close()

Connection policy:

  - each dial is bounded by ConnectTimeout
  - failures and abnormal drops are retried after ReconnectDelay
  - after MaxReconnectAttempts consecutive failures the agent enters
    StateFailed and publishes connection_error with maxAttemptsReached
  - a successful connection resets the attempt counter
  - a normal close from the relay ends the loop without retrying

Connect, EnsureConnected (the foreground hook) and the retry timer share one
state, so at most one connection loop exists at a time.
*/
package realtime
