/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrTransportClosed indicates the transport is gone.
	ErrTransportClosed = errors.New("transport closed")
)

// WebRtcTransportOptions selects listen addressing for a WebRTC transport.
type WebRtcTransportOptions struct {
	ListenIP    string
	AnnouncedIP string
	EnableUDP   bool
	EnableTCP   bool
	PreferUDP   bool
	AppData     TransportAppData
}

// PlainTransportOptions selects addressing for a plain RTP transport.
type PlainTransportOptions struct {
	ListenIP string
	RTCPMux  bool
	Comedia  bool
	AppData  TransportAppData
}

// TransportTuple is one local RTP or RTCP binding of a plain transport.
type TransportTuple struct {
	LocalIP   string `json:"localIp"`
	LocalPort int    `json:"localPort"`
	Protocol  string `json:"protocol,omitempty"`
}

// TransportInfo is the bootstrap bundle a client needs to connect a WebRTC
// transport: ICE and DTLS parameters straight from the worker.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type webRtcTransportData struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type plainTransportData struct {
	Tuple     TransportTuple `json:"tuple"`
	RTCPTuple TransportTuple `json:"rtcpTuple"`
}

// WebRtcTransport carries media between one participant and the router, in
// one direction. Producers and consumers created on it die with it.
type WebRtcTransport struct {
	id      string
	router  *Router
	appData TransportAppData
	data    webRtcTransportData

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newWebRtcTransport(id string, router *Router, appData TransportAppData, raw json.RawMessage) (*WebRtcTransport, error) {
	var data webRtcTransportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode webrtc transport data: %w", err)
	}
	return &WebRtcTransport{
		id:        id,
		router:    router,
		appData:   appData,
		data:      data,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}, nil
}

// ID returns the transport id.
func (t *WebRtcTransport) ID() string { return t.id }

// AppData returns the typed application data the transport was created with.
func (t *WebRtcTransport) AppData() TransportAppData { return t.appData }

// Closed reports whether the transport is gone.
func (t *WebRtcTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connected reports whether the DTLS handshake has completed.
func (t *WebRtcTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Info returns the client bootstrap parameters.
func (t *WebRtcTransport) Info() TransportInfo {
	return TransportInfo{
		ID:             t.id,
		ICEParameters:  t.data.ICEParameters,
		ICECandidates:  t.data.ICECandidates,
		DTLSParameters: t.data.DTLSParameters,
	}
}

// Connect runs the DTLS handshake with the client's parameters. Connecting
// an already connected transport is a no-op.
func (t *WebRtcTransport) Connect(ctx context.Context, dtls webrtc.DTLSParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	_, err := t.router.worker.channel.Request(ctx, "transport.connect", t.id, map[string]any{
		"dtlsParameters": dtls,
	})
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Produce tells the worker to start receiving the client's media on this
// transport and registers the resulting producer on the router.
func (t *WebRtcTransport) Produce(ctx context.Context, kind MediaKind, params RtpParameters, appData EndpointAppData) (*Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	producerID := uuid.NewString()
	_, err := t.router.worker.channel.Request(ctx, "transport.produce", t.id, map[string]any{
		"producerId":    producerID,
		"kind":          kind,
		"rtpParameters": params,
		"appData":       appData,
	})
	if err != nil {
		return nil, fmt.Errorf("produce: %w", err)
	}

	p := newProducer(producerID, t.id, kind, params, appData, t.router)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.transportClosed()
		return nil, ErrTransportClosed
	}
	t.producers[producerID] = p
	t.mu.Unlock()

	t.router.registerProducer(p)
	t.router.worker.channel.Subscribe(producerID, p.handleNotification)
	p.setOnCloseInternal(func() {
		t.mu.Lock()
		delete(t.producers, producerID)
		t.mu.Unlock()
	})
	return p, nil
}

// Consume creates a consumer for the given producer on this transport.
// Consumers start paused; the caller resumes once the client is ready.
func (t *WebRtcTransport) Consume(ctx context.Context, producerID string, caps RtpCapabilities, appData EndpointAppData) (*Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	c, err := createConsumer(ctx, t.router, t.id, producerID, caps, appData)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.transportClosed()
		return nil, ErrTransportClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	c.setOnCloseInternal(func() {
		t.mu.Lock()
		delete(t.consumers, c.id)
		t.mu.Unlock()
	})
	return c, nil
}

// Close tears the transport down deliberately, cascading through its
// producers and consumers before telling the worker.
func (t *WebRtcTransport) Close() {
	if !t.beginClose() {
		return
	}
	t.router.worker.channel.Notify("transport.close", t.id, nil)
	t.router.removeWebRtcTransport(t.id)
}

func (t *WebRtcTransport) routerClosed() {
	if !t.beginClose() {
		return
	}
	t.router.removeWebRtcTransport(t.id)
}

func (t *WebRtcTransport) beginClose() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.producers = make(map[string]*Producer)
	t.consumers = make(map[string]*Consumer)
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed()
	}
	for _, p := range producers {
		p.transportClosed()
	}
	return true
}

func (t *WebRtcTransport) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "@close":
		if t.beginClose() {
			t.router.removeWebRtcTransport(t.id)
		}
	default:
		t.router.logger.Debug().Str("transport_id", t.id).Str("event", event).Msg("transport notification")
	}
}

// PlainTransport receives RTP from the router and forwards it to a plain
// UDP endpoint, used to feed the HLS transcoder over loopback.
type PlainTransport struct {
	id      string
	router  *Router
	appData TransportAppData
	data    plainTransportData

	mu        sync.Mutex
	closed    bool
	consumers map[string]*Consumer
}

func newPlainTransport(id string, router *Router, appData TransportAppData, raw json.RawMessage) (*PlainTransport, error) {
	var data plainTransportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode plain transport data: %w", err)
	}
	return &PlainTransport{
		id:        id,
		router:    router,
		appData:   appData,
		data:      data,
		consumers: make(map[string]*Consumer),
	}, nil
}

// ID returns the transport id.
func (t *PlainTransport) ID() string { return t.id }

// Tuple returns the transport's local RTP binding.
func (t *PlainTransport) Tuple() TransportTuple { return t.data.Tuple }

// RTCPTuple returns the transport's local RTCP binding.
func (t *PlainTransport) RTCPTuple() TransportTuple { return t.data.RTCPTuple }

// Closed reports whether the transport is gone.
func (t *PlainTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Consume creates a paused consumer feeding this transport.
func (t *PlainTransport) Consume(ctx context.Context, producerID string, caps RtpCapabilities, appData EndpointAppData) (*Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	c, err := createConsumer(ctx, t.router, t.id, producerID, caps, appData)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.transportClosed()
		return nil, ErrTransportClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	c.setOnCloseInternal(func() {
		t.mu.Lock()
		delete(t.consumers, c.id)
		t.mu.Unlock()
	})
	return c, nil
}

// Close tears the transport down, cascading through its consumers.
func (t *PlainTransport) Close() {
	if !t.beginClose() {
		return
	}
	t.router.worker.channel.Notify("transport.close", t.id, nil)
	t.router.removePlainTransport(t.id)
}

func (t *PlainTransport) routerClosed() {
	if !t.beginClose() {
		return
	}
	t.router.removePlainTransport(t.id)
}

func (t *PlainTransport) beginClose() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.consumers = make(map[string]*Consumer)
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed()
	}
	return true
}

func (t *PlainTransport) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "@close":
		if t.beginClose() {
			t.router.removePlainTransport(t.id)
		}
	default:
		t.router.logger.Debug().Str("transport_id", t.id).Str("event", event).Msg("transport notification")
	}
}
