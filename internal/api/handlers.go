// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/relay"
	"github.com/tomtom215/syncrelay/internal/validation"
)

// maxEmitBody bounds POST /emit-event bodies.
const maxEmitBody = 1 << 20

// hubAttachTimeout bounds how long an upgraded connection waits for the
// hub run loop before it is closed.
var hubAttachTimeout = 5 * time.Second

// Handler serves the relay endpoints.
type Handler struct {
	hub       *relay.Hub
	config    *config.RelayConfig
	startTime time.Time
}

// NewHandler creates a handler for hub. cfg may be nil in tests, in which
// case every websocket origin is accepted.
func NewHandler(hub *relay.Hub, cfg *config.RelayConfig) *Handler {
	return &Handler{
		hub:       hub,
		config:    cfg,
		startTime: time.Now(),
	}
}

// EmitEvent accepts a backend event and broadcasts it.
//
// Request:  {"eventType":"pago_registrado","data":{...},"room":"dashboard"}
// Response: {"success":true,"connectedClients":3,"delivered":2}
func (h *Handler) EmitEvent(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, "relay unavailable", ErrHubUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEmitBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "request body too large", ErrBodyTooLarge)
			return
		}
		respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	if len(body) == 0 {
		respondError(w, r, http.StatusBadRequest, "request body is empty", nil)
		return
	}

	var req models.EmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	res, err := h.hub.Emit(r.Context(), &req, relay.SourceHTTP)
	if err != nil {
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			respondError(w, r, http.StatusBadRequest, verr.Error(), err)
			return
		}
		respondError(w, r, http.StatusInternalServerError, "failed to emit event", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.EmitResponse{
		Success:          true,
		ConnectedClients: res.Connected,
		Delivered:        res.Delivered,
	})
}

// WebSocket upgrades the connection and hands it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, "websocket service unavailable", ErrHubUnavailable)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := relay.NewClient(h.hub, conn)
	if err := h.hub.Attach(r.Context(), client, hubAttachTimeout); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket registration abandoned")
		_ = conn.Close()
		return
	}
	client.Start()
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts requests without an Origin header, which is
// how the mobile apps connect, and browser origins on the CORS list.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.config == nil {
		return true
	}
	for _, allowed := range h.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}
