// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/listener"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
)

// Local lifecycle events, delivered through On like relay events.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventConnectionError = "connection_error"
)

var (
	// ErrNotConnected is returned by Send when the connection is not open.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrMaxAttempts is carried in the connection_error event once the
	// reconnect cap is reached.
	ErrMaxAttempts = errors.New("realtime: maximum reconnect attempts reached")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime: agent closed")
)

// State is the single connection state shared by every connect trigger.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	// StateFailed is terminal until Connect or EnsureConnected is called.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config tunes the agent.
type Config struct {
	URL        string
	ClientType string
	Platform   string
	// Room is joined after registration, in addition to the client type's
	// default room.
	Room string

	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	WriteWait time.Duration
	// ReadTimeout closes a connection that has been silent this long. The
	// relay pings well within it.
	ReadTimeout time.Duration
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() Config {
	return Config{
		ClientType:           models.ClientTypeDashboard,
		ConnectTimeout:       10 * time.Second,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		WriteWait:            10 * time.Second,
		ReadTimeout:          90 * time.Second,
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

// Agent keeps one websocket connection to the relay and republishes the
// events it receives to local subscribers.
//
// Every connect trigger (explicit Connect, foreground checks, the retry
// timer) goes through the same state. Only a transition out of
// Disconnected or Failed starts a connection loop, so triggers never race
// into duplicate connections.
type Agent struct {
	cfg    Config
	dialer Dialer
	events *listener.Registry[models.NotificationEvent]
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	attempts   int
	socketID   string
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closed     bool

	writeMu sync.Mutex
}

// New creates a disconnected agent.
func New(cfg Config, opts ...Option) *Agent {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}

	a := &Agent{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		events: listener.NewRegistry[models.NotificationEvent]("realtime"),
		logger: logging.WithComponent("realtime-agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	metrics.RealtimeState.Set(float64(StateDisconnected))
	return a
}

// Connect starts connecting in the background. It is EnsureConnected under
// the name callers expect; calling it while connecting or open is a no-op.
func (a *Agent) Connect() bool {
	return a.EnsureConnected()
}

// EnsureConnected starts a connection loop unless one is already connecting
// or open, and reports whether it started one. When the connection is open
// it probes liveness with a ping; a dead socket then fails its read and
// the loop reconnects.
func (a *Agent) EnsureConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	switch a.state {
	case StateConnecting:
		return false
	case StateOpen:
		if conn := a.conn; conn != nil {
			deadline := time.Now().Add(a.cfg.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.logger.Debug().Err(err).Msg("liveness ping failed, dropping connection")
				_ = conn.Close()
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.loopCancel = cancel
	a.loopDone = done
	a.attempts = 0
	a.setStateLocked(StateConnecting)

	go a.run(ctx, done)
	return true
}

// Disconnect closes the connection and stops any retry. It waits for the
// connection loop to exit.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	cancel, done, conn := a.loopCancel, a.loopDone, a.conn
	a.loopCancel, a.loopDone = nil, nil
	if cancel != nil {
		// Canceled under the lock so the loop cannot overwrite the state.
		cancel()
	}
	a.setStateLocked(StateDisconnected)
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		a.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		a.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
}

// Close disconnects and removes every subscriber. The agent cannot be
// reused.
func (a *Agent) Close() {
	a.Disconnect()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.events.Close()
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SocketID returns the id the relay assigned to the current connection.
func (a *Agent) SocketID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.socketID
}

// On subscribes h to eventType. Handlers run on the connection's read
// goroutine, one event at a time, and must not call Disconnect or Close.
func (a *Agent) On(eventType string, h func(models.NotificationEvent)) listener.Subscription {
	return a.events.Subscribe(eventType, func(_ string, items []models.NotificationEvent) {
		for _, e := range items {
			h(e)
		}
	})
}

// OnChan subscribes a buffered channel to eventType. Events that do not fit
// are dropped for this subscriber.
func (a *Agent) OnChan(eventType string, buffer int) (listener.Subscription, <-chan listener.Batch[models.NotificationEvent]) {
	return a.events.SubscribeChan(eventType, buffer)
}

// Off removes a subscription made with On or OnChan.
func (a *Agent) Off(sub listener.Subscription) bool {
	return a.events.Unsubscribe(sub)
}

// Send writes a message to the relay.
func (a *Agent) Send(eventType string, payload interface{}) error {
	a.mu.Lock()
	conn, state, closed := a.conn, a.state, a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}
	return a.write(conn, eventType, payload)
}

func (a *Agent) write(conn *websocket.Conn, msgType string, payload interface{}) error {
	msg := models.Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", msgType, err)
		}
		msg.Data = data
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// run is the connection loop. It dials, serves the connection until it
// drops, and retries after a fixed delay until the attempt cap.
func (a *Agent) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts := a.failAttempt()
			a.logger.Warn().Err(err).Int("attempt", attempts).Int("max_attempts", a.cfg.MaxReconnectAttempts).Msg("relay connection failed")

			if attempts >= a.cfg.MaxReconnectAttempts {
				if a.setState(ctx, StateFailed) {
					a.logger.Error().Int("attempts", attempts).Msg("giving up on relay connection")
					a.publish(EventConnectionError, models.ConnectionError{
						MaxAttemptsReached: true,
						Attempts:           attempts,
						Error:              fmt.Errorf("%w: %w", ErrMaxAttempts, err).Error(),
					})
				}
				return
			}
			if !a.sleep(ctx) {
				return
			}
			continue
		}

		if !a.opened(ctx, conn) {
			_ = conn.Close()
			return
		}
		closeErr := a.serve(conn)
		if !a.dropped(ctx, closeErr) {
			return
		}
		if !a.sleep(ctx) {
			return
		}
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := a.dialer.DialContext(dialCtx, a.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	metrics.RecordConnectAttempt(err)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *Agent) failAttempt() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	return a.attempts
}

// opened records a fresh connection, resets the attempt counter and
// registers with the relay.
func (a *Agent) opened(ctx context.Context, conn *websocket.Conn) bool {
	a.mu.Lock()
	if ctx.Err() != nil {
		a.mu.Unlock()
		return false
	}
	a.conn = conn
	a.attempts = 0
	a.socketID = ""
	a.setStateLocked(StateOpen)
	a.mu.Unlock()

	reg := models.RegisterClient{ClientType: a.cfg.ClientType, Platform: a.cfg.Platform}
	if err := a.write(conn, models.MessageRegisterClient, reg); err != nil {
		a.logger.Warn().Err(err).Msg("failed to register with relay")
	}
	if a.cfg.Room != "" {
		if err := a.write(conn, models.MessageJoinRoom, models.JoinRoom{Room: a.cfg.Room}); err != nil {
			a.logger.Warn().Err(err).Str("room", a.cfg.Room).Msg("failed to join room")
		}
	}

	a.logger.Info().Str("url", a.cfg.URL).Str("client_type", a.cfg.ClientType).Msg("connected to relay")
	a.publish(EventConnect, nil)
	return true
}

// dropped handles the end of a connection and reports whether to retry.
func (a *Agent) dropped(ctx context.Context, closeErr error) bool {
	a.mu.Lock()
	a.conn = nil
	a.mu.Unlock()

	a.publish(EventDisconnect, nil)
	if ctx.Err() != nil {
		return false
	}

	if websocket.IsCloseError(closeErr, websocket.CloseNormalClosure) {
		a.logger.Info().Msg("relay closed the connection")
		a.setState(ctx, StateDisconnected)
		return false
	}

	a.logger.Warn().Err(closeErr).Dur("retry_in", a.cfg.ReconnectDelay).Msg("relay connection lost")
	a.setState(ctx, StateConnecting)
	return true
}

// serve reads until the connection fails and returns the read error.
func (a *Agent) serve(conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		a.writeMu.Lock()
		defer a.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(a.cfg.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		extend()
		a.handle(data)
	}
}

func (a *Agent) handle(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Debug().Err(err).Msg("ignoring malformed relay message")
		return
	}

	switch msg.Type {
	case models.MessagePong:
		return
	case models.MessageConnectionStatus:
		var status models.ConnectionStatus
		if err := json.Unmarshal(msg.Data, &status); err == nil {
			a.mu.Lock()
			a.socketID = status.SocketID
			a.mu.Unlock()
		}
	}

	event := models.NotificationEvent{Type: msg.Type, Payload: msg.Data}
	if msg.Timestamp != nil {
		event.ServerTimestamp = *msg.Timestamp
	}
	a.events.Dispatch(msg.Type, []models.NotificationEvent{event})
}

func (a *Agent) publish(eventType string, payload interface{}) {
	event := models.NotificationEvent{Type: eventType, ServerTimestamp: models.NewTimestamp(time.Now())}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	a.events.Dispatch(eventType, []models.NotificationEvent{event})
}

func (a *Agent) sleep(ctx context.Context) bool {
	timer := time.NewTimer(a.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// setState changes the state unless the loop owning ctx was stopped.
func (a *Agent) setState(ctx context.Context, s State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	a.setStateLocked(s)
	return true
}

func (a *Agent) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.logger.Debug().Stringer("from", a.state).Stringer("to", s).Msg("state change")
	a.state = s
	metrics.RealtimeState.Set(float64(s))
}
