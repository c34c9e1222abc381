// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package models

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Action is the kind of mutation a change record describes.
type Action string

// Recognized actions. The store may send lowercase variants; UnmarshalJSON
// normalizes them.
const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is one of the recognized actions.
func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	*a = Action(strings.ToUpper(strings.TrimSpace(s)))
	return nil
}

// Table names the domain table a change belongs to. Unknown tables are
// still carried and dispatched; these are the ones the apps subscribe to.
type Table = string

const (
	TablePayments  Table = "pagos"
	TableLoans     Table = "prestamos"
	TableCustomers Table = "clientes"
)

// Flag is a boolean that also accepts the 0/1 integers MySQL returns for
// TINYINT columns.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	case "false", "0", `"0"`, `"false"`, "null", `""`:
		*f = false
	default:
		return fmt.Errorf("flag: unexpected value %s", data)
	}
	return nil
}

// ChangeRecord is one append-only entry in the store's change log.
//
// Consumed is the server-side acknowledgment flag. It is global rather than
// per client, so agents never filter on it; the per-client cursor decides
// what is new.
type ChangeRecord struct {
	ID              int64           `json:"id"`
	Table           Table           `json:"tabla"`
	Action          Action          `json:"accion"`
	RecordID        int64           `json:"registro_id"`
	Before          json.RawMessage `json:"datos_anteriores,omitempty"`
	After           json.RawMessage `json:"datos_nuevos,omitempty"`
	ServerTimestamp Timestamp       `json:"timestamp"`
	Consumed        Flag            `json:"sincronizado"`
}

// Snapshot returns the most relevant row image: After for inserts and
// updates, Before for deletes.
func (c *ChangeRecord) Snapshot() json.RawMessage {
	if c.Action == ActionDelete {
		return c.Before
	}
	return c.After
}

// GroupByTable partitions records by table. Table order follows first
// appearance and records keep their server order within a table.
func GroupByTable(records []ChangeRecord) (tables []Table, groups map[Table][]ChangeRecord) {
	groups = make(map[Table][]ChangeRecord)
	for i := range records {
		t := records[i].Table
		if _, seen := groups[t]; !seen {
			tables = append(tables, t)
		}
		groups[t] = append(groups[t], records[i])
	}
	return tables, groups
}

// IDs returns the record IDs in order.
func IDs(records []ChangeRecord) []int64 {
	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	return ids
}

// SyncResponse is the body of GET /sync.
type SyncResponse struct {
	Success          bool           `json:"success"`
	Changes          []ChangeRecord `json:"cambios"`
	CurrentTimestamp Timestamp      `json:"timestamp_actual"`
	Message          string         `json:"message,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// MarkSyncedRequest is the body of POST /mark_synced.
type MarkSyncedRequest struct {
	IDs []int64 `json:"ids"`
}

// AckResponse is the generic body returned by the store's write endpoints.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SyncStats summarizes the change log.
type SyncStats struct {
	Pending    int64      `json:"cambios_pendientes"`
	LastChange *Timestamp `json:"ultimo_cambio"`
}

// SyncStatsResponse is the body of GET /sync_stats.
type SyncStatsResponse struct {
	Success bool      `json:"success"`
	Stats   SyncStats `json:"stats"`
	Error   string    `json:"error,omitempty"`
}

// SyncCursor is a client's bookmark into the change log. It is persisted
// locally and only moves backwards on an explicit full resync.
type SyncCursor struct {
	LastSync  Timestamp `json:"last_sync"`
	UpdatedAt Timestamp `json:"updated_at"`
}
