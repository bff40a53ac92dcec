/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrRouterClosed indicates the router (or its worker) is gone.
	ErrRouterClosed = errors.New("media router closed")
	// ErrTransportNotFound indicates an unknown transport id on this router.
	ErrTransportNotFound = errors.New("transport not found")
	// ErrProducerNotFound indicates an unknown producer id on this router.
	ErrProducerNotFound = errors.New("producer not found")
	// ErrConsumerNotFound indicates an unknown consumer id on this router.
	ErrConsumerNotFound = errors.New("consumer not found")
)

// Router is one routing domain on a worker. All transports, producers and
// consumers of one room live on one router and can reach each other. The
// router keeps id-keyed registries of everything created on it; entries
// evict themselves when the object closes, however the close was initiated.
type Router struct {
	id     string
	worker *Worker
	codecs []RtpCodecCapability
	logger zerolog.Logger

	mu         sync.Mutex
	webrtc     map[string]*WebRtcTransport
	plain      map[string]*PlainTransport
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	closed     bool
	closeFuncs []func()
}

func newRouter(id string, worker *Worker, codecs []RtpCodecCapability, logger zerolog.Logger) *Router {
	return &Router{
		id:        id,
		worker:    worker,
		codecs:    codecs,
		logger:    logger.With().Str("router_id", id).Logger(),
		webrtc:    make(map[string]*WebRtcTransport),
		plain:     make(map[string]*PlainTransport),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
}

// ID returns the router id.
func (r *Router) ID() string { return r.id }

// WorkerID returns the id of the worker hosting this router.
func (r *Router) WorkerID() string { return r.worker.id }

// Closed reports whether the router has been closed or lost its worker.
func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Capabilities returns the RTP capabilities clients must load their device
// with before creating transports.
func (r *Router) Capabilities() RtpCapabilities {
	return RtpCapabilities{
		Codecs:           r.codecs,
		HeaderExtensions: DefaultHeaderExtensions(),
	}
}

// CreateWebRtcTransport materializes a WebRTC transport on the worker and
// registers it.
func (r *Router) CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (*WebRtcTransport, error) {
	if r.Closed() {
		return nil, ErrRouterClosed
	}

	transportID := uuid.NewString()
	data, err := r.worker.channel.Request(ctx, "router.createWebRtcTransport", r.id, map[string]any{
		"transportId": transportID,
		"listenIp":    opts.ListenIP,
		"announcedIp": opts.AnnouncedIP,
		"enableUdp":   opts.EnableUDP,
		"enableTcp":   opts.EnableTCP,
		"preferUdp":   opts.PreferUDP,
		"appData":     opts.AppData,
	})
	if err != nil {
		return nil, fmt.Errorf("create webrtc transport: %w", err)
	}

	t, err := newWebRtcTransport(transportID, r, opts.AppData, data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.routerClosed()
		return nil, ErrRouterClosed
	}
	r.webrtc[transportID] = t
	r.mu.Unlock()

	r.worker.channel.Subscribe(transportID, t.handleNotification)
	r.logger.Debug().Str("transport_id", transportID).Str("direction", string(opts.AppData.Direction)).Msg("webrtc transport created")
	return t, nil
}

// CreatePlainTransport materializes a plain RTP transport on the worker,
// used to feed media into the HLS transcoder over loopback.
func (r *Router) CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (*PlainTransport, error) {
	if r.Closed() {
		return nil, ErrRouterClosed
	}

	transportID := uuid.NewString()
	data, err := r.worker.channel.Request(ctx, "router.createPlainTransport", r.id, map[string]any{
		"transportId": transportID,
		"listenIp":    opts.ListenIP,
		"rtcpMux":     opts.RTCPMux,
		"comedia":     opts.Comedia,
		"appData":     opts.AppData,
	})
	if err != nil {
		return nil, fmt.Errorf("create plain transport: %w", err)
	}

	t, err := newPlainTransport(transportID, r, opts.AppData, data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.routerClosed()
		return nil, ErrRouterClosed
	}
	r.plain[transportID] = t
	r.mu.Unlock()

	r.worker.channel.Subscribe(transportID, t.handleNotification)
	r.logger.Debug().Str("transport_id", transportID).Msg("plain transport created")
	return t, nil
}

// Transport looks up a WebRTC transport by id.
func (r *Router) Transport(id string) (*WebRtcTransport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.webrtc[id]
	return t, ok
}

// Producer looks up a producer by id.
func (r *Router) Producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

// Consumer looks up a consumer by id.
func (r *Router) Consumer(id string) (*Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	return c, ok
}

// Producers returns a snapshot of all live producers on the router.
func (r *Router) Producers() []*Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	return out
}

// CanConsume reports whether a consumer with the given capabilities could
// receive the producer's media: some capability codec must match one of the
// producer's codecs by mime type, clock rate and channel count.
func (r *Router) CanConsume(producerID string, caps RtpCapabilities) bool {
	producer, ok := r.Producer(producerID)
	if !ok {
		return false
	}
	for _, pc := range producer.rtpParameters.Codecs {
		for _, cc := range caps.Codecs {
			if codecsMatch(pc, cc) {
				return true
			}
		}
	}
	return false
}

func codecsMatch(p RtpCodecParameters, c RtpCodecCapability) bool {
	if !strings.EqualFold(p.MimeType, c.MimeType) {
		return false
	}
	if p.ClockRate != c.ClockRate {
		return false
	}
	if strings.HasPrefix(strings.ToLower(p.MimeType), "audio/") {
		pch, cch := p.Channels, c.Channels
		if pch == 0 {
			pch = 1
		}
		if cch == 0 {
			cch = 1
		}
		if pch != cch {
			return false
		}
	}
	return true
}

// Close tears the router down deliberately. Local registries cascade first,
// then the worker drops the router and everything on it.
func (r *Router) Close() {
	if !r.beginClose() {
		return
	}
	r.worker.channel.Notify("router.close", r.id, nil)
	r.logger.Info().Msg("router closed")
}

// workerClosed handles the hosting worker dying. Same cascade as Close but
// no channel traffic: there is nobody left to talk to.
func (r *Router) workerClosed() {
	if !r.beginClose() {
		return
	}
	r.logger.Warn().Msg("router lost its worker")
}

// beginClose flips the closed flag once and cascades through the local
// registries. Returns false if the router was already closed.
func (r *Router) beginClose() bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	webrtc := make([]*WebRtcTransport, 0, len(r.webrtc))
	for _, t := range r.webrtc {
		webrtc = append(webrtc, t)
	}
	plain := make([]*PlainTransport, 0, len(r.plain))
	for _, t := range r.plain {
		plain = append(plain, t)
	}
	closeFuncs := r.closeFuncs
	r.closeFuncs = nil
	r.mu.Unlock()

	for _, t := range webrtc {
		t.routerClosed()
	}
	for _, t := range plain {
		t.routerClosed()
	}
	for _, fn := range closeFuncs {
		fn()
	}
	return true
}

func (r *Router) onClose(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		fn()
		return
	}
	r.closeFuncs = append(r.closeFuncs, fn)
	r.mu.Unlock()
}

// registerProducer and friends keep the id registries in sync with object
// lifecycles. Remove paths are invoked from the objects' own close handling.

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	orphaned := make([]*Consumer, 0, 2)
	for _, c := range r.consumers {
		if c.producerID == id {
			orphaned = append(orphaned, c)
		}
	}
	r.mu.Unlock()
	r.worker.channel.Unsubscribe(id)

	// A consumer never outlives its producer.
	for _, c := range orphaned {
		c.Close()
	}
}

func (r *Router) registerConsumer(c *Consumer) {
	r.mu.Lock()
	r.consumers[c.id] = c
	r.mu.Unlock()
}

func (r *Router) removeConsumer(id string) {
	r.mu.Lock()
	delete(r.consumers, id)
	r.mu.Unlock()
	r.worker.channel.Unsubscribe(id)
}

func (r *Router) removeWebRtcTransport(id string) {
	r.mu.Lock()
	delete(r.webrtc, id)
	r.mu.Unlock()
	r.worker.channel.Unsubscribe(id)
}

func (r *Router) removePlainTransport(id string) {
	r.mu.Lock()
	delete(r.plain, id)
	r.mu.Unlock()
	r.worker.channel.Unsubscribe(id)
}
