/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Consumer is one media stream the router sends out over a transport, fed
// by a producer on the same router. Consumers start paused so the receiving
// side can settle before packets flow.
type Consumer struct {
	id            string
	producerID    string
	transportID   string
	kind          MediaKind
	rtpParameters RtpParameters
	appData       EndpointAppData
	router        *Router

	mu              sync.Mutex
	paused          bool
	closed          bool
	onCloseInternal func()
	onClosed        []func()
}

type consumerData struct {
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

// createConsumer runs the transport.consume request and builds the consumer
// from the worker's reply. Shared by both transport flavors.
func createConsumer(ctx context.Context, r *Router, transportID, producerID string, caps RtpCapabilities, appData EndpointAppData) (*Consumer, error) {
	if _, ok := r.Producer(producerID); !ok {
		return nil, ErrProducerNotFound
	}

	consumerID := uuid.NewString()
	raw, err := r.worker.channel.Request(ctx, "transport.consume", transportID, map[string]any{
		"consumerId":      consumerID,
		"producerId":      producerID,
		"rtpCapabilities": caps,
		"paused":          true,
		"appData":         appData,
	})
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	var data consumerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode consumer data: %w", err)
	}

	c := &Consumer{
		id:            consumerID,
		producerID:    producerID,
		transportID:   transportID,
		kind:          data.Kind,
		rtpParameters: data.RtpParameters,
		appData:       appData,
		router:        r,
		paused:        true,
	}
	r.registerConsumer(c)
	r.worker.channel.Subscribe(consumerID, c.handleNotification)
	return c, nil
}

// ID returns the consumer id.
func (c *Consumer) ID() string { return c.id }

// ProducerID returns the id of the producer feeding this consumer.
func (c *Consumer) ProducerID() string { return c.producerID }

// TransportID returns the id of the transport carrying this consumer.
func (c *Consumer) TransportID() string { return c.transportID }

// Kind returns audio or video.
func (c *Consumer) Kind() MediaKind { return c.kind }

// RtpParameters returns the RTP parameters the worker chose for this
// consumer. The receiving side needs them to decode the stream.
func (c *Consumer) RtpParameters() RtpParameters { return c.rtpParameters }

// AppData returns the typed application data the consumer was created with.
func (c *Consumer) AppData() EndpointAppData { return c.appData }

// Paused reports whether the stream is currently held back.
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Closed reports whether the consumer is gone.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Resume starts packet flow toward the receiver.
func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerNotFound
	}
	c.mu.Unlock()

	if _, err := c.router.worker.channel.Request(ctx, "consumer.resume", c.id, nil); err != nil {
		return fmt.Errorf("resume consumer: %w", err)
	}

	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// Close stops the consumer on the worker and evicts it from every registry
// holding it.
func (c *Consumer) Close() {
	if !c.beginClose() {
		return
	}
	c.router.worker.channel.Notify("consumer.close", c.id, nil)
	c.router.removeConsumer(c.id)
}

// transportClosed handles the owning transport going away.
func (c *Consumer) transportClosed() {
	if !c.beginClose() {
		return
	}
	c.router.removeConsumer(c.id)
}

// OnClose registers fn to run once when the consumer closes through any
// path. Runs immediately if it already has.
func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClosed = append(c.onClosed, fn)
	c.mu.Unlock()
}

func (c *Consumer) beginClose() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	onClose := c.onCloseInternal
	c.onCloseInternal = nil
	subscribers := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	for _, fn := range subscribers {
		fn()
	}
	return true
}

func (c *Consumer) setOnCloseInternal(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onCloseInternal = fn
	c.mu.Unlock()
}

func (c *Consumer) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "@close":
		if c.beginClose() {
			c.router.removeConsumer(c.id)
		}
	default:
		c.router.logger.Debug().Str("consumer_id", c.id).Str("event", event).Msg("consumer notification")
	}
}
