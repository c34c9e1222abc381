// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/tomtom215/syncrelay/internal/models"
)

// Health reports liveness, uptime in seconds and the connection count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	connected := 0
	if h.hub != nil {
		connected = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, &models.HealthResponse{
		Status:           "ok",
		Uptime:           h.uptime(),
		ConnectedClients: connected,
	})
}

// Stats reports connection, room and runtime memory statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	resp := &models.StatsResponse{
		Uptime: h.uptime(),
		MemoryUsage: models.MemoryUsage{
			HeapAlloc:  ms.HeapAlloc,
			HeapInuse:  ms.HeapInuse,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Rooms:       map[string]int{},
		ClientTypes: map[string]int{},
	}
	if h.hub != nil {
		s := h.hub.Stats()
		resp.ConnectedClients = s.Connections
		resp.Rooms = s.Rooms
		resp.ClientTypes = s.ClientTypes
		resp.Broadcasts = s.Broadcasts
		resp.Dropped = s.Dropped
	}
	respondJSON(w, http.StatusOK, resp)
}

// Connections lists every open connection.
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondJSON(w, http.StatusOK, []models.ConnectionInfo{})
		return
	}
	respondJSON(w, http.StatusOK, h.hub.Snapshot())
}

func (h *Handler) uptime() float64 {
	return time.Since(h.startTime).Seconds()
}
