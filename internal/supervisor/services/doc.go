// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package services adapts syncrelay components to suture.Service.

	HTTPServerService   ListenAndServe/Shutdown  (*http.Server)
	RelayHubService     RunWithContext           (*relay.Hub)
	NATSIngressService  Run/Close per restart    (*ingress.NATSIngress, *ingress.EmbeddedServer)
	LifecycleService    Start/Stop               (*client.App)

Return values follow suture's contract: ctx.Err() on requested shutdown,
any other error to request a restart, and an error wrapping
suture.ErrDoNotRestart when restarting cannot help.

Every wrapper implements fmt.Stringer so supervisor events name the
service.
*/
package services
