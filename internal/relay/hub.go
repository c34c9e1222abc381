// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
)

var (
	// ErrHubStopped is returned by Attach once the run loop has exited.
	ErrHubStopped = errors.New("relay: hub is not running")
	// ErrAttachTimeout is returned by Attach when the run loop does not
	// accept the connection in time.
	ErrAttachTimeout = errors.New("relay: timed out registering connection")
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Options tune per-connection behavior.
type Options struct {
	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full when a broadcast arrives misses that broadcast.
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
}

// DefaultOptions mirror the relay configuration defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		MaxMessageSize: 512 * 1024,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
	}
}

// BroadcastResult reports the outcome of one fan-out.
type BroadcastResult struct {
	// Connected is the total number of open connections.
	Connected int
	// Targeted connections matched the room filter.
	Targeted  int
	Delivered int
	Dropped   int
}

// Stats summarizes hub state for the stats endpoint.
type Stats struct {
	Connections int
	Rooms       map[string]int
	ClientTypes map[string]int
	Broadcasts  uint64
	Dropped     uint64
}

// Hub maintains the set of open connections and fans events out to them.
//
// Connection lifecycle goes through Register and Unregister, which
// RunWithContext serializes. Broadcast takes a snapshot under the read lock
// and never blocks on a connection: every send is a non-blocking enqueue.
type Hub struct {
	clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// done is closed when RunWithContext returns so pumps of connections
	// outliving the loop can still unregister.
	done chan struct{}

	opts       Options
	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= opts.WriteWait {
		opts.PongWait = def.PongWait
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		opts:       opts,
	}
}

// RunWithContext processes connection lifecycle events until ctx is
// canceled, then closes every connection and returns ctx.Err().
//
// Shutdown is checked first, then pending lifecycle events, so a burst of
// registrations cannot delay shutdown.
func (h *Hub) RunWithContext(ctx context.Context) error {
	done := make(chan struct{})
	h.mu.Lock()
	h.done = done
	h.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		}
	}
}

// Attach hands c to the run loop. It gives up when ctx ends, when the loop
// exits, or after timeout, so callers never wait on a hub that is
// restarting or gone.
func (h *Hub) Attach(ctx context.Context, c *Client, timeout time.Duration) error {
	h.mu.RLock()
	done := h.done
	h.mu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h.Register <- c:
		return nil
	case <-done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAttachTimeout
	}
}

// unregister hands c to the run loop, or removes it directly when the loop
// is not running.
func (h *Hub) unregister(c *Client) {
	h.mu.RLock()
	done := h.done
	h.mu.RUnlock()

	if done == nil {
		h.remove(c)
		return
	}
	select {
	case h.Unregister <- c:
	case <-done:
		h.remove(c)
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RelayConnections.Set(float64(total))
	logging.Info().
		Str("socket_id", c.socketID).
		Str("remote_addr", c.remoteAddr).
		Int("total_clients", total).
		Msg("websocket client connected")

	status, err := encode(models.MessageConnectionStatus, models.ConnectionStatus{
		Status:   "connected",
		SocketID: c.socketID,
	})
	if err == nil {
		h.sendTo(c, status)
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.RelayConnections.Set(float64(total))
	logging.Info().
		Str("socket_id", c.socketID).
		Dur("connected_for", time.Since(c.connectedAt)).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}

	logging.Info().
		Str("component", "relay-hub").
		Str("reason", string(reason)).
		Int("clients_closed", clientCount).
		Msg("relay hub stopped")
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedLocked() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.RelayConnections.Set(0)
}

// sortedLocked returns clients in connection order. mu must be held.
func (h *Hub) sortedLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// Broadcast sends eventType with data to every connection, or only to the
// connections in room when room is not empty. Delivery is best effort: a
// connection with a full queue misses the event and nothing is retried.
func (h *Hub) Broadcast(eventType string, data json.RawMessage, room string) BroadcastResult {
	payload, err := encodeEvent(eventType, data)
	if err != nil {
		logging.Warn().Err(err).Str("event_type", eventType).Msg("failed to encode broadcast")
		return BroadcastResult{Connected: h.ClientCount()}
	}

	var res BroadcastResult
	h.mu.RLock()
	res.Connected = len(h.clients)
	for _, client := range h.sortedLocked() {
		if room != "" {
			if _, in := client.rooms[room]; !in {
				continue
			}
		}
		res.Targeted++
		select {
		case client.send <- payload:
			res.Delivered++
		default:
			res.Dropped++
		}
	}
	h.mu.RUnlock()

	h.broadcasts.Add(1)
	h.dropped.Add(uint64(res.Dropped))
	metrics.RecordBroadcast(res.Delivered, res.Dropped)

	if res.Dropped > 0 {
		logging.Warn().
			Str("event_type", eventType).
			Str("room", room).
			Int("dropped", res.Dropped).
			Msg("slow clients missed broadcast")
	}
	logging.Debug().
		Str("event_type", eventType).
		Str("room", room).
		Int("delivered", res.Delivered).
		Int("connected", res.Connected).
		Msg("broadcast")
	return res
}

// JoinRoom adds c to room. It reports false when c is not connected.
func (h *Hub) JoinRoom(c *Client, room string) bool {
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

// identify records the client type announced in register_client and joins
// the room that type belongs to.
func (h *Hub) identify(c *Client, reg models.RegisterClient) string {
	room := models.DefaultRoom(reg.ClientType)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return ""
	}
	c.clientType = reg.ClientType
	c.platform = reg.Platform
	if room != "" {
		c.rooms[room] = struct{}{}
	}
	return room
}

// sendTo enqueues a message for one client without blocking.
func (h *Hub) sendTo(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Snapshot describes every connected client in connection order.
func (h *Hub) Snapshot() []models.ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.ConnectionInfo, 0, len(h.clients))
	for _, c := range h.sortedLocked() {
		rooms := make([]string, 0, len(c.rooms))
		for r := range c.rooms {
			rooms = append(rooms, r)
		}
		sort.Strings(rooms)
		out = append(out, models.ConnectionInfo{
			ID:          c.socketID,
			ClientType:  c.clientType,
			Platform:    c.platform,
			Rooms:       rooms,
			ConnectedAt: c.connectedAt,
		})
	}
	return out
}

// Stats returns connection counts by room and client type plus broadcast
// counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Connections: len(h.clients),
		Rooms:       make(map[string]int),
		ClientTypes: make(map[string]int),
		Broadcasts:  h.broadcasts.Load(),
		Dropped:     h.dropped.Load(),
	}
	for c := range h.clients {
		for r := range c.rooms {
			s.Rooms[r]++
		}
		ct := c.clientType
		if ct == "" {
			ct = "unregistered"
		}
		s.ClientTypes[ct]++
	}
	return s
}

func encodeEvent(eventType string, data json.RawMessage) ([]byte, error) {
	ts := models.NewTimestamp(time.Now())
	return json.Marshal(models.Message{Type: eventType, Data: data, Timestamp: &ts})
}

func encode(msgType string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encodeEvent(msgType, data)
}
