/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"encoding/json"
	"sync"
)

// Producer is one media stream a participant sends into the router.
type Producer struct {
	id            string
	transportID   string
	kind          MediaKind
	rtpParameters RtpParameters
	appData       EndpointAppData
	router        *Router

	mu              sync.Mutex
	closed          bool
	onCloseInternal func()
	onClosed        []func()
}

func newProducer(id, transportID string, kind MediaKind, params RtpParameters, appData EndpointAppData, router *Router) *Producer {
	return &Producer{
		id:            id,
		transportID:   transportID,
		kind:          kind,
		rtpParameters: params,
		appData:       appData,
		router:        router,
	}
}

// ID returns the producer id.
func (p *Producer) ID() string { return p.id }

// TransportID returns the id of the transport carrying this producer.
func (p *Producer) TransportID() string { return p.transportID }

// Kind returns audio or video.
func (p *Producer) Kind() MediaKind { return p.kind }

// RtpParameters returns the negotiated RTP parameters of the stream.
func (p *Producer) RtpParameters() RtpParameters { return p.rtpParameters }

// AppData returns the typed application data the producer was created with.
func (p *Producer) AppData() EndpointAppData { return p.appData }

// Closed reports whether the producer is gone.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops the stream on the worker and evicts the producer from every
// registry holding it.
func (p *Producer) Close() {
	if !p.beginClose() {
		return
	}
	p.router.worker.channel.Notify("producer.close", p.id, nil)
	p.router.removeProducer(p.id)
}

// transportClosed handles the owning transport going away. The worker drops
// the producer with the transport, so only local state is cleaned up.
func (p *Producer) transportClosed() {
	if !p.beginClose() {
		return
	}
	p.router.removeProducer(p.id)
}

// OnClose registers fn to run once when the producer closes through any
// path. Runs immediately if it already has.
func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onClosed = append(p.onClosed, fn)
	p.mu.Unlock()
}

func (p *Producer) beginClose() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	onClose := p.onCloseInternal
	p.onCloseInternal = nil
	subscribers := p.onClosed
	p.onClosed = nil
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	for _, fn := range subscribers {
		fn()
	}
	return true
}

func (p *Producer) setOnCloseInternal(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onCloseInternal = fn
	p.mu.Unlock()
}

func (p *Producer) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "@close":
		if p.beginClose() {
			p.router.removeProducer(p.id)
		}
	default:
		p.router.logger.Debug().Str("producer_id", p.id).Str("event", event).Msg("producer notification")
	}
}
