// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
		want  time.Time
		err   bool
	}{
		{"rfc3339", "2024-03-05T14:30:00Z", want, false},
		{"rfc3339 offset", "2024-03-05T16:30:00+02:00", want, false},
		{"mysql datetime", "2024-03-05 14:30:00", want, false},
		{"naive iso", "2024-03-05T14:30:00", want, false},
		{"empty", "", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.err {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got.Time, tt.want)
			}
		})
	}
}

func TestZeroTimestampStringIsEpoch(t *testing.T) {
	if got := (Timestamp{}).String(); got != "1970-01-01T00:00:00Z" {
		t.Errorf("zero timestamp = %q, want epoch", got)
	}
}

func TestSyncResponseDecodesStorePayload(t *testing.T) {
	body := `{
		"success": true,
		"cambios": [
			{"id": 7, "tabla": "pagos", "accion": "insert", "registro_id": 42,
			 "datos_nuevos": {"monto":150}, "timestamp": "2024-03-05 14:30:00", "sincronizado": 0},
			{"id": 8, "tabla": "prestamos", "accion": "DELETE", "registro_id": 3,
			 "datos_anteriores": {"saldo":0}, "timestamp": "2024-03-05T14:31:00Z", "sincronizado": true}
		],
		"timestamp_actual": "2024-03-05T14:32:00Z"
	}`

	var resp SyncResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(resp.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(resp.Changes))
	}
	first := resp.Changes[0]
	if first.Action != ActionInsert || first.Table != TablePayments || first.RecordID != 42 {
		t.Errorf("unexpected first record: %+v", first)
	}
	if bool(first.Consumed) {
		t.Error("first record should not be consumed")
	}
	if string(first.Snapshot()) != `{"monto":150}` {
		t.Errorf("insert snapshot = %s", first.Snapshot())
	}
	second := resp.Changes[1]
	if !bool(second.Consumed) {
		t.Error("second record should be consumed")
	}
	if string(second.Snapshot()) != `{"saldo":0}` {
		t.Errorf("delete snapshot = %s", second.Snapshot())
	}
	if resp.CurrentTimestamp.Minute() != 32 {
		t.Errorf("timestamp_actual = %v", resp.CurrentTimestamp.Time)
	}
}

func TestGroupByTablePreservesOrder(t *testing.T) {
	records := []ChangeRecord{
		{ID: 1, Table: TableLoans},
		{ID: 2, Table: TablePayments},
		{ID: 3, Table: TableLoans},
		{ID: 4, Table: "auditoria"},
	}

	tables, groups := GroupByTable(records)
	wantTables := []string{TableLoans, TablePayments, "auditoria"}
	if len(tables) != len(wantTables) {
		t.Fatalf("tables = %v, want %v", tables, wantTables)
	}
	for i := range wantTables {
		if tables[i] != wantTables[i] {
			t.Errorf("tables[%d] = %s, want %s", i, tables[i], wantTables[i])
		}
	}
	if ids := IDs(groups[TableLoans]); len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("loan ids = %v, want [1 3]", ids)
	}
}

func TestFlagRejectsUnknown(t *testing.T) {
	var f Flag
	if err := f.UnmarshalJSON([]byte(`"maybe"`)); err == nil {
		t.Error("expected error for non-boolean flag")
	}
}

func TestIsReservedMessage(t *testing.T) {
	for _, name := range []string{MessageConnectionStatus, MessageJoinRoom, MessagePing} {
		if !IsReservedMessage(name) {
			t.Errorf("%s should be reserved", name)
		}
	}
	for _, name := range DomainEvents {
		if IsReservedMessage(name) {
			t.Errorf("%s should not be reserved", name)
		}
	}
}

func TestDefaultRoom(t *testing.T) {
	if got := DefaultRoom(ClientTypeMobile); got != RoomCollectors {
		t.Errorf("mobile room = %q", got)
	}
	if got := DefaultRoom("kiosk"); got != "" {
		t.Errorf("unknown client type room = %q, want empty", got)
	}
}
