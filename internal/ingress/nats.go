// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/relay"
)

// Emitter is the part of the relay hub the ingress drives.
type Emitter interface {
	Emit(ctx context.Context, req *models.EmitRequest, source string) (relay.BroadcastResult, error)
}

// Ingress results recorded in metrics.IngressMessages.
const (
	resultEmitted = "emitted"
	resultInvalid = "invalid"
)

// NATSIngress subscribes to a NATS subject and emits every message through
// the relay hub.
type NATSIngress struct {
	subscriber message.Subscriber
	emitter    Emitter
	subject    string

	mu     sync.Mutex
	closed bool
}

// NewNATSIngress connects a core NATS subscriber for cfg.Subject.
func NewNATSIngress(cfg *config.NATSConfig, url string, emitter Emitter) (*NATSIngress, error) {
	if emitter == nil {
		return nil, errors.New("ingress: emitter is required")
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger().With("component", "nats-ingress"))

	natsOpts := []natsgo.Option{
		natsgo.Name("syncrelay-ingress"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Str("component", "nats-ingress").Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("component", "nats-ingress").Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}

	return &NATSIngress{
		subscriber: sub,
		emitter:    emitter,
		subject:    cfg.Subject,
	}, nil
}

// Run consumes messages until ctx is canceled or the subscriber closes.
func (n *NATSIngress) Run(ctx context.Context) error {
	messages, err := n.subscriber.Subscribe(ctx, n.subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", n.subject, err)
	}

	logging.Info().Str("component", "nats-ingress").Str("subject", n.subject).Msg("NATS ingress started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			n.handle(ctx, msg)
		}
	}
}

// handle acks every message. Invalid ones are counted and dropped since a
// redelivery would fail the same way.
func (n *NATSIngress) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	ctx = logging.ContextWithNewCorrelationID(ctx)

	var req models.EmitRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.IngressMessages.WithLabelValues(resultInvalid).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("component", "nats-ingress").Msg("dropping malformed event")
		return
	}

	if _, err := n.emitter.Emit(ctx, &req, relay.SourceNATS); err != nil {
		metrics.IngressMessages.WithLabelValues(resultInvalid).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("component", "nats-ingress").Str("event_type", req.EventType).Msg("dropping invalid event")
		return
	}
	metrics.IngressMessages.WithLabelValues(resultEmitted).Inc()
}

// Close shuts the subscriber down. It is safe to call more than once.
func (n *NATSIngress) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.subscriber.Close()
}
