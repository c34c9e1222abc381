// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import "errors"

var (
	// ErrHubUnavailable is reported when the handler has no hub.
	ErrHubUnavailable = errors.New("relay hub not available")

	// ErrBodyTooLarge is reported when an emit body exceeds maxEmitBody.
	ErrBodyTooLarge = errors.New("request body too large")
)
