// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package listener implements a topic-scoped subscriber registry.
//
// The sync agent uses it with table names as topics and change records as
// items; the realtime agent uses it with event types as topics. Dispatch
// invokes every subscriber of the topic in registration order. A panicking
// subscriber is recovered and logged and the remaining subscribers still
// run. The registry never de-duplicates: dispatching the same batch twice
// calls every subscriber twice.
package listener

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
)

// Handler receives one batch for a topic.
type Handler[T any] func(topic string, items []T)

// Batch is what channel subscribers receive.
type Batch[T any] struct {
	Topic string
	Items []T
}

// Subscription identifies one registration. The zero value is never issued.
type Subscription struct {
	id    uint64
	topic string
}

// Topic returns the topic the subscription was made for.
func (s Subscription) Topic() string { return s.topic }

// Valid reports whether s was issued by a registry.
func (s Subscription) Valid() bool { return s.id != 0 }

type subscriber[T any] struct {
	id      uint64
	handler Handler[T]
	sink    *chanSink[T]
}

// chanSink serializes sends against close so a dispatch racing with
// Unsubscribe never sends on a closed channel.
type chanSink[T any] struct {
	mu     sync.Mutex
	ch     chan Batch[T]
	closed bool
}

func (s *chanSink[T]) offer(b Batch[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- b:
		return true
	default:
		return false
	}
}

func (s *chanSink[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Registry holds subscribers keyed by topic.
type Registry[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]*subscriber[T]
	logger zerolog.Logger
}

// NewRegistry creates an empty registry. name tags its log lines.
func NewRegistry[T any](name string) *Registry[T] {
	return &Registry[T]{
		topics: make(map[string][]*subscriber[T]),
		logger: logging.WithComponent("listener").With().Str("registry", name).Logger(),
	}
}

// Subscribe registers h for topic. Handlers run on the dispatching
// goroutine and should return promptly.
func (r *Registry[T]) Subscribe(topic string, h Handler[T]) Subscription {
	if h == nil {
		panic("listener: nil handler")
	}
	return r.add(topic, &subscriber[T]{handler: h})
}

// SubscribeChan registers a buffered channel for topic. Batches that do not
// fit in the buffer are dropped for this subscriber only. The channel is
// closed by Unsubscribe or Close.
func (r *Registry[T]) SubscribeChan(topic string, buffer int) (Subscription, <-chan Batch[T]) {
	if buffer < 1 {
		buffer = 1
	}
	sink := &chanSink[T]{ch: make(chan Batch[T], buffer)}
	return r.add(topic, &subscriber[T]{sink: sink}), sink.ch
}

func (r *Registry[T]) add(topic string, s *subscriber[T]) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.id = r.nextID
	r.topics[topic] = append(r.topics[topic], s)
	return Subscription{id: s.id, topic: topic}
}

// Unsubscribe removes the registration. It reports false if sub was not
// registered. Safe to call more than once.
func (r *Registry[T]) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	subs := r.topics[sub.topic]
	var removed *subscriber[T]
	for i, s := range subs {
		if s.id == sub.id {
			removed = s
			next := make([]*subscriber[T], 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.topics, sub.topic)
			} else {
				r.topics[sub.topic] = next
			}
			break
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	if removed.sink != nil {
		removed.sink.close()
	}
	return true
}

// Dispatch delivers items to every subscriber of topic in registration
// order and returns how many subscribers received the batch. Subscribers
// added or removed during dispatch do not affect this call.
func (r *Registry[T]) Dispatch(topic string, items []T) int {
	r.mu.RLock()
	snapshot := r.topics[topic]
	r.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if s.sink != nil {
			if s.sink.offer(Batch[T]{Topic: topic, Items: items}) {
				delivered++
			} else {
				r.logger.Warn().Str("topic", topic).Uint64("subscription", s.id).Msg("channel subscriber full, batch dropped")
			}
			continue
		}
		if r.invoke(topic, s, items) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry[T]) invoke(topic string, s *subscriber[T], items []T) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerPanics.WithLabelValues(topic).Inc()
			r.logger.Error().
				Str("topic", topic).
				Uint64("subscription", s.id).
				Str("panic", fmt.Sprint(rec)).
				Msg("listener panicked")
			ok = false
		}
	}()
	s.handler(topic, items)
	return true
}

// Len returns the number of subscribers for topic.
func (r *Registry[T]) Len(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics returns the topics that have at least one subscriber.
func (r *Registry[T]) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	return out
}

// Close removes every subscriber and closes every subscriber channel.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	topics := r.topics
	r.topics = make(map[string][]*subscriber[T])
	r.mu.Unlock()

	for _, subs := range topics {
		for _, s := range subs {
			if s.sink != nil {
				s.sink.close()
			}
		}
	}
}
