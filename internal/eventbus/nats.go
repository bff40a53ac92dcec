/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus onto NATS so external
// consumers (recorders, chat overlays, moderation tooling) can follow room
// lifecycle without polling the REST API.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/events"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. "duocast.events.room.created".
const SubjectPrefix = "duocast.events."

// forwardedEvents lists every event type mirrored to NATS. The bridge is
// one-way: nothing is consumed back into the process.
var forwardedEvents = []events.EventType{
	events.EventRoomCreated,
	events.EventRoomClosed,
	events.EventParticipantJoined,
	events.EventParticipantLeft,
	events.EventProducerCreated,
	events.EventProducerClosed,
	events.EventHLSStarted,
	events.EventHLSRestarted,
	events.EventHLSStopped,
	events.EventWorkerDied,
	events.EventWorkerReplaced,
	events.EventRouterGone,
}

// Message is the wire form of one forwarded event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Publisher forwards bus events to NATS subjects.
type Publisher struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher connects to NATS and starts forwarding. Publishing is
// fire-and-forget: a NATS outage drops events rather than blocking rooms.
func NewPublisher(url string, bus *events.Bus, logger zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("duocast"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	p := &Publisher{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: nodeID(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for _, eventType := range forwardedEvents {
		sub := bus.Subscribe(eventType)
		p.wg.Add(1)
		go p.forward(ctx, eventType, sub)
	}

	p.logger.Info().Str("url", url).Str("node_id", p.nodeID).Msg("NATS event bridge connected")
	return p, nil
}

func (p *Publisher) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer p.wg.Done()
	defer p.bus.Unsubscribe(eventType, sub)

	subject := SubjectPrefix + string(eventType)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			data, err := json.Marshal(Message{
				EventType: eventType,
				Payload:   payload,
				Timestamp: time.Now().UTC(),
				NodeID:    p.nodeID,
				MessageID: uuid.NewString(),
			})
			if err != nil {
				p.logger.Error().Err(err).Str("subject", subject).Msg("marshal event")
				continue
			}
			if err := p.conn.Publish(subject, data); err != nil {
				p.logger.Debug().Err(err).Str("subject", subject).Msg("publish event failed")
			}
		}
	}
}

// Close stops forwarding and drains the connection so queued events flush.
func (p *Publisher) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "duocast"
	}
	return host + "-" + uuid.NewString()[:8]
}
