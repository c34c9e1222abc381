// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package relay

import (
	"context"
	"errors"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/validation"
)

// Event sources for the emitted-events metric.
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// ErrInvalidEvent wraps validation failures of an emit request.
var ErrInvalidEvent = errors.New("invalid event")

// Emit validates req and broadcasts it. It is the single entry point for
// backend-originated events, whichever transport carried them.
func (h *Hub) Emit(ctx context.Context, req *models.EmitRequest, source string) (BroadcastResult, error) {
	if verr := validation.ValidateStruct(req); verr != nil {
		return BroadcastResult{Connected: h.ClientCount()}, errors.Join(ErrInvalidEvent, verr)
	}

	res := h.Broadcast(req.EventType, req.Body(), req.Room)
	metrics.RelayEventsEmitted.WithLabelValues(eventLabel(req.EventType), source).Inc()

	logging.Ctx(ctx).Info().
		Str("event_type", req.EventType).
		Str("room", req.Room).
		Str("source", source).
		Int("connected", res.Connected).
		Int("delivered", res.Delivered).
		Msg("event emitted")
	return res, nil
}

// eventLabel keeps metric cardinality bounded to the known domain events.
func eventLabel(eventType string) string {
	for _, e := range models.DomainEvents {
		if e == eventType {
			return e
		}
	}
	return "other"
}
