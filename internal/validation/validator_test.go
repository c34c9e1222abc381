// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/syncrelay/internal/models"
)

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct_EmitRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       models.EmitRequest
		wantField string
		wantTag   string
	}{
		{name: "domain event", req: models.EmitRequest{EventType: models.EventPaymentRecorded}},
		{name: "event with room", req: models.EmitRequest{EventType: models.EventLoanCreated, Room: "collectors"}},
		{name: "dotted event", req: models.EmitRequest{EventType: "loan.updated"}},
		{name: "missing event type", req: models.EmitRequest{}, wantField: "eventType", wantTag: "required"},
		{name: "reserved event", req: models.EmitRequest{EventType: models.MessageConnectionStatus}, wantField: "eventType", wantTag: "eventname"},
		{name: "event with spaces", req: models.EmitRequest{EventType: "pago registrado"}, wantField: "eventType", wantTag: "eventname"},
		{name: "too long event", req: models.EmitRequest{EventType: strings.Repeat("a", 65)}, wantField: "eventType", wantTag: "max"},
		{name: "room with spaces", req: models.EmitRequest{EventType: "x", Room: "a b"}, wantField: "room", wantTag: "excludesall"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.req)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("unexpected validation error: %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("fields = %+v, want one", verr.Fields)
			}
			got := verr.Fields[0]
			if got.Field != tt.wantField || got.Tag != tt.wantTag {
				t.Errorf("field error = %s/%s, want %s/%s", got.Field, got.Tag, tt.wantField, tt.wantTag)
			}
			if !strings.Contains(verr.Error(), tt.wantField) {
				t.Errorf("message %q does not name the field", verr.Error())
			}
		})
	}
}

func TestValidateStruct_NestedNamespace(t *testing.T) {
	type inner struct {
		Port int `koanf:"port" validate:"min=1,max=65535"`
	}
	type outer struct {
		Relay inner `koanf:"relay"`
	}

	verr := ValidateStruct(&outer{Relay: inner{Port: 0}})
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if got := verr.Fields[0].Field; got != "relay.port" {
		t.Errorf("field = %q, want relay.port", got)
	}
	if want := "relay.port must be at least 1"; verr.Error() != want {
		t.Errorf("Error() = %q, want %q", verr.Error(), want)
	}
}
