// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package notify keeps short-lived notifications for the UI layer.
//
// A notification is removed automatically after a fixed duration, or
// earlier when the user dismisses it. When MaxActive is reached the oldest
// notification makes room for the new one.
package notify

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
)

// Reason says why a notification left the tray.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonDismissed Reason = "dismissed"
	ReasonEvicted   Reason = "evicted"
	ReasonClosed    Reason = "closed"
)

// Notification is one entry shown to the user.
type Notification struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Title     string          `json:"title"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Config tunes the tray.
type Config struct {
	Duration time.Duration
	// MaxActive caps visible notifications. Zero means no cap.
	MaxActive int
	// OnRemove, if set, is called after a notification leaves the tray. It
	// runs without the tray lock held.
	OnRemove func(Notification, Reason)
}

type entry struct {
	n     Notification
	timer *time.Timer
}

// Tray holds the active notifications.
type Tray struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	items  map[string]*entry
	order  []string
	closed bool
}

// NewTray creates an empty tray. A non-positive duration defaults to 5s.
func NewTray(cfg Config) *Tray {
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	return &Tray{
		cfg:    cfg,
		logger: logging.WithComponent("notify"),
		items:  make(map[string]*entry),
	}
}

// Title returns the user-facing title for a domain event type.
func Title(eventType string) string {
	switch eventType {
	case models.EventPaymentRecorded:
		return "Pago registrado"
	case models.EventLoanCreated:
		return "Nuevo préstamo"
	case models.EventLoanUpdated:
		return "Préstamo actualizado"
	}
	return eventType
}

// Show adds a notification for e and schedules its removal.
func (t *Tray) Show(e models.NotificationEvent) Notification {
	now := time.Now()
	n := Notification{
		ID:        uuid.NewString(),
		EventType: e.Type,
		Title:     Title(e.Type),
		Payload:   e.Payload,
		CreatedAt: now,
		ExpiresAt: now.Add(t.cfg.Duration),
	}

	var evicted []Notification
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return n
	}
	for t.cfg.MaxActive > 0 && len(t.order) >= t.cfg.MaxActive {
		if old, ok := t.removeLocked(t.order[0]); ok {
			evicted = append(evicted, old)
		}
	}
	id := n.ID
	t.items[id] = &entry{
		n:     n,
		timer: time.AfterFunc(t.cfg.Duration, func() { t.remove(id, ReasonExpired) }),
	}
	t.order = append(t.order, id)
	t.mu.Unlock()

	for _, old := range evicted {
		t.removed(old, ReasonEvicted)
	}
	t.logger.Info().Str("id", n.ID).Str("event_type", n.EventType).Str("title", n.Title).Msg("notification shown")
	return n
}

// Dismiss removes a notification before it expires. It reports false if
// id is not active.
func (t *Tray) Dismiss(id string) bool {
	return t.remove(id, ReasonDismissed)
}

// Active returns the visible notifications, oldest first.
func (t *Tray) Active() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Notification, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.items[id].n)
	}
	return out
}

// Close stops every pending expiry and empties the tray.
func (t *Tray) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	var removed []Notification
	for len(t.order) > 0 {
		if n, ok := t.removeLocked(t.order[0]); ok {
			removed = append(removed, n)
		}
	}
	t.mu.Unlock()

	for _, n := range removed {
		t.removed(n, ReasonClosed)
	}
}

func (t *Tray) remove(id string, reason Reason) bool {
	t.mu.Lock()
	n, ok := t.removeLocked(id)
	t.mu.Unlock()
	if ok {
		t.removed(n, reason)
	}
	return ok
}

// removeLocked drops id and stops its timer. mu must be held.
func (t *Tray) removeLocked(id string) (Notification, bool) {
	e, ok := t.items[id]
	if !ok {
		return Notification{}, false
	}
	e.timer.Stop()
	delete(t.items, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return e.n, true
}

func (t *Tray) removed(n Notification, reason Reason) {
	t.logger.Debug().Str("id", n.ID).Str("reason", string(reason)).Msg("notification removed")
	if t.cfg.OnRemove != nil {
		t.cfg.OnRemove(n, reason)
	}
}
