/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rooms is the room orchestrator: the state machine that admits
// participants, walks them through the WebRTC handshake against the media
// layer, and drives each room's HLS pipeline as the producer set changes.
package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/events"
	"github.com/friendsincode/duocast/internal/hls"
	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/telemetry"
)

const (
	// mediaCallTimeout bounds a single worker round-trip.
	mediaCallTimeout = 10 * time.Second

	// connectTimeout bounds the client's DTLS handshake.
	connectTimeout = 10 * time.Second

	// consumerResumeDelay is how long a freshly created consumer stays
	// paused. Resuming immediately races the client's DTLS handshake and
	// loses the first seconds of the track.
	consumerResumeDelay = time.Second
)

// Notifier delivers server-initiated events to a room's connected clients.
// The signaling layer implements it; tests substitute a recorder.
type Notifier interface {
	// ToRoom sends an event to every member of the room. exceptSocketID
	// is skipped; pass "" to include everyone.
	ToRoom(roomID, exceptSocketID, event string, data any)
}

// Options wires an orchestrator to its collaborators.
type Options struct {
	Pool  *media.Pool
	Store *Store // optional; nil runs without the metadata mirror
	Bus   *events.Bus

	MediaListenIP    string
	MediaAnnouncedIP string
	ForceTCP         bool

	HLSPath       string
	TranscoderBin string
	HLSSpawn      hls.SpawnFunc // optional transcoder spawn seam

	Logger zerolog.Logger
}

// JoinRequest is the payload of a join-room request.
type JoinRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// JoinReply answers a successful join. RouterRtpCapabilities is nil for
// viewers, who never touch WebRTC.
type JoinReply struct {
	Room                  RoomSnapshot           `json:"room"`
	ParticipantID         string                 `json:"participantId"`
	Role                  string                 `json:"role"`
	RouterRtpCapabilities *media.RtpCapabilities `json:"routerRtpCapabilities"`
	ExistingProducers     []ProducerInfo         `json:"existingProducers"`
}

// ConsumeReply carries what a client needs to receive one producer.
type ConsumeReply struct {
	ID            string              `json:"id"`
	ProducerID    string              `json:"producerId"`
	Kind          string              `json:"kind"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
}

// Orchestrator owns every live room. One instance per process; all entry
// points are safe for concurrent use, and per-connection ordering is the
// dispatcher's job.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger

	notifierMu sync.RWMutex
	notifier   Notifier

	mu         sync.Mutex
	rooms      map[string]*Room
	socketRoom map[string]string
	closed     bool
}

// New creates the orchestrator and hooks worker-death handling into the
// pool.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "orchestrator").Logger(),
		rooms:      make(map[string]*Room),
		socketRoom: make(map[string]string),
	}
	if opts.Pool != nil {
		opts.Pool.OnWorkerDown(o.handleWorkerDown)
	}
	return o
}

// SetNotifier installs the broadcast sink. Must be called before traffic
// arrives; the signaling layer does it during wiring.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifierMu.Lock()
	o.notifier = n
	o.notifierMu.Unlock()
}

func (o *Orchestrator) toRoom(roomID, exceptSocketID, event string, data any) {
	o.notifierMu.RLock()
	n := o.notifier
	o.notifierMu.RUnlock()
	if n != nil {
		n.ToRoom(roomID, exceptSocketID, event, data)
	}
}

// Room returns the live room with the given id, if any.
func (o *Orchestrator) Room(id string) (*Room, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms[id]
	return r, ok
}

// RoomSockets lists the signaling-channel ids of a room's members. The
// signaling hub resolves broadcasts through it.
func (o *Orchestrator) RoomSockets(roomID string) []string {
	room, ok := o.Room(roomID)
	if !ok {
		return nil
	}
	parts := room.Participants()
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.SocketID)
	}
	return out
}

// Join admits a signaling connection into a room, activating the room
// first if this is its first participant.
func (o *Orchestrator) Join(ctx context.Context, socketID string, req JoinRequest) (*JoinReply, error) {
	if req.RoomID == "" {
		return nil, ErrRoomNotFound
	}

	// A connection can only be in one room; a re-join on the same socket
	// replaces the previous membership.
	o.Disconnect(ctx, socketID)

	role := ParseRole(req.Role)

	room, err := o.liveRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}

	p, err := room.admit(socketID, req.Name, role)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			// Lost a race against room teardown; one retry against a
			// fresh room.
			if room, err = o.liveRoom(ctx, req.RoomID); err == nil {
				p, err = room.admit(socketID, req.Name, role)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	o.socketRoom[socketID] = room.ID
	o.mu.Unlock()

	if o.opts.Store != nil {
		if serr := o.opts.Store.AddParticipant(ctx, p); serr != nil {
			o.logger.Warn().Err(serr).Str("participant_id", p.ID).Msg("participant mirror write failed")
		}
	}
	telemetry.ParticipantsConnected.WithLabelValues(string(p.Role)).Inc()
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventParticipantJoined, events.Payload{
			"room_id":        room.ID,
			"participant_id": p.ID,
			"role":           string(p.Role),
		})
	}

	reply := &JoinReply{
		Room:              room.snapshot(),
		ParticipantID:     p.ID,
		Role:              string(p.Role),
		ExistingProducers: []ProducerInfo{},
	}
	if !p.IsViewer() {
		caps := room.Router().Capabilities()
		reply.RouterRtpCapabilities = &caps
		reply.ExistingProducers = room.producerSnapshot()
	}

	o.toRoom(room.ID, socketID, "new-participant", map[string]any{
		"participantId": p.ID,
		"name":          p.Name,
		"role":          string(p.Role),
	})

	o.logger.Info().
		Str("room_id", room.ID).
		Str("participant_id", p.ID).
		Str("role", string(p.Role)).
		Msg("participant joined")
	return reply, nil
}

// liveRoom returns the live room, creating router and room on first join.
// The router is created outside the orchestrator lock; a lost creation race
// closes the extra router and uses the winner.
func (o *Orchestrator) liveRoom(ctx context.Context, id string) (*Room, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room, ok := o.rooms[id]; ok {
		o.mu.Unlock()
		return room, nil
	}
	o.mu.Unlock()

	name := id
	if o.opts.Store != nil {
		rec, err := o.opts.Store.EnsureRoom(ctx, id, "")
		if err != nil {
			o.logger.Warn().Err(err).Str("room_id", id).Msg("room record unavailable, continuing in-memory")
		} else {
			name = rec.Name
		}
	}

	worker, err := o.opts.Pool.GetNext()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, mediaCallTimeout)
	router, err := worker.CreateRouter(callCtx, media.DefaultMediaCodecs())
	cancel()
	if err != nil {
		return nil, err
	}

	room := newRoom(id, name, router)
	room.hls = hls.NewController(hls.Options{
		RoomID:   id,
		BasePath: o.opts.HLSPath,
		Bin:      o.opts.TranscoderBin,
		Router: func() *media.Router {
			if router.Closed() {
				return nil
			}
			return router
		},
		Sources: room.hlsSources,
		Spawn:   o.opts.HLSSpawn,
		OnStarted: func(url string) {
			o.hlsURLChanged(id, url, "hls-started")
		},
		OnRestarted: func(url string) {
			o.hlsURLChanged(id, url, "hls-restarted")
		},
		OnStopped: func() {
			o.hlsURLChanged(id, "", "hls-stopped")
		},
		Bus:    o.opts.Bus,
		Logger: o.logger,
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		router.Close()
		return nil, ErrRoomNotFound
	}
	if existing, ok := o.rooms[id]; ok {
		o.mu.Unlock()
		router.Close()
		return existing, nil
	}
	o.rooms[id] = room
	o.mu.Unlock()

	telemetry.RoomsActive.Inc()
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventRoomCreated, events.Payload{"room_id": id})
	}
	o.logger.Info().Str("room_id", id).Str("worker_id", router.WorkerID()).Msg("room activated")
	return room, nil
}

// hlsURLChanged fans an HLS lifecycle change out to the room and mirrors
// the playlist URL into the store.
func (o *Orchestrator) hlsURLChanged(roomID, url, event string) {
	data := map[string]any{"roomId": roomID}
	if url != "" {
		data["playlistUrl"] = url
	}
	o.toRoom(roomID, "", event, data)

	if o.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mediaCallTimeout)
		defer cancel()
		if err := o.opts.Store.SetRoomHLSUrl(ctx, roomID, url); err != nil {
			o.logger.Warn().Err(err).Str("room_id", roomID).Msg("hls url mirror write failed")
		}
	}
}

// Leave is the explicit counterpart of Disconnect; the cleanup path is the
// same because a disconnect can arrive at any moment anyway.
func (o *Orchestrator) Leave(ctx context.Context, socketID string) {
	o.Disconnect(ctx, socketID)
}

// Disconnect removes the connection's participant, tears down everything
// it owned, and closes the room if it emptied. Safe to call for sockets
// that never joined.
func (o *Orchestrator) Disconnect(ctx context.Context, socketID string) {
	o.mu.Lock()
	roomID, ok := o.socketRoom[socketID]
	if ok {
		delete(o.socketRoom, socketID)
	}
	room := o.rooms[roomID]
	o.mu.Unlock()
	if !ok || room == nil {
		return
	}

	p, found := room.removeParticipant(socketID)
	if !found {
		return
	}
	p.close()

	telemetry.ParticipantsConnected.WithLabelValues(string(p.Role)).Dec()
	if o.opts.Store != nil {
		if err := o.opts.Store.RemoveParticipant(ctx, p.ID); err != nil {
			o.logger.Warn().Err(err).Str("participant_id", p.ID).Msg("participant mirror delete failed")
		}
	}

	o.toRoom(room.ID, socketID, "participant-left", map[string]any{
		"participantId": p.ID,
	})
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventParticipantLeft, events.Payload{
			"room_id":        room.ID,
			"participant_id": p.ID,
		})
	}
	o.logger.Info().Str("room_id", room.ID).Str("participant_id", p.ID).Msg("participant left")

	if room.Empty() {
		o.closeRoom(room)
		return
	}
	if !p.IsViewer() && room.Streamers() == 0 {
		// Viewers may stay, but with no streamers there is nothing to
		// transcode.
		room.HLS().Shutdown()
	}
}

// closeRoom tears a room down completely and drops its socket index
// entries. Remaining members (if any) stay connected but roomless.
func (o *Orchestrator) closeRoom(room *Room) {
	remaining := room.Participants()

	o.mu.Lock()
	if _, ok := o.rooms[room.ID]; !ok {
		o.mu.Unlock()
		return
	}
	delete(o.rooms, room.ID)
	for _, p := range remaining {
		delete(o.socketRoom, p.SocketID)
	}
	o.mu.Unlock()

	for _, p := range remaining {
		telemetry.ParticipantsConnected.WithLabelValues(string(p.Role)).Dec()
	}
	room.close()

	if o.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mediaCallTimeout)
		defer cancel()
		if err := o.opts.Store.SetRoomActive(ctx, room.ID, false); err != nil {
			o.logger.Warn().Err(err).Str("room_id", room.ID).Msg("room mirror deactivate failed")
		}
		for _, p := range remaining {
			if err := o.opts.Store.RemoveParticipant(ctx, p.ID); err != nil {
				o.logger.Warn().Err(err).Str("participant_id", p.ID).Msg("participant mirror delete failed")
			}
		}
	}

	telemetry.RoomsActive.Dec()
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventRoomClosed, events.Payload{"room_id": room.ID})
	}
	o.logger.Info().Str("room_id", room.ID).Msg("room closed")
}

// CloseRoom force-closes a live room, e.g. from the REST API. No-op when
// the room is not live.
func (o *Orchestrator) CloseRoom(roomID string) {
	if room, ok := o.Room(roomID); ok {
		o.closeRoom(room)
	}
}

// handleWorkerDown closes every room whose router lived on the dead worker.
// No migration happens; clients are told the router is gone and rejoin onto
// the replacement worker.
func (o *Orchestrator) handleWorkerDown(dead *media.Worker) {
	o.mu.Lock()
	affected := make([]*Room, 0, 1)
	for _, room := range o.rooms {
		if room.Router().WorkerID() == dead.ID() {
			affected = append(affected, room)
		}
	}
	o.mu.Unlock()

	for _, room := range affected {
		o.logger.Error().Str("room_id", room.ID).Str("worker_id", dead.ID()).Msg("room lost its router")
		o.toRoom(room.ID, "", "error", map[string]any{
			"message": ErrRouterGone.ProtocolCode(),
		})
		if o.opts.Bus != nil {
			o.opts.Bus.Publish(events.EventRouterGone, events.Payload{
				"room_id":   room.ID,
				"worker_id": dead.ID(),
			})
		}
		o.closeRoom(room)
	}
}

// participant resolves a socket to its room and participant.
func (o *Orchestrator) participant(socketID string) (*Room, *Participant, error) {
	o.mu.Lock()
	roomID, ok := o.socketRoom[socketID]
	room := o.rooms[roomID]
	o.mu.Unlock()
	if !ok || room == nil {
		return nil, nil, ErrRoomNotFound
	}
	p, found := room.participantBySocket(socketID)
	if !found {
		return nil, nil, ErrParticipantNotFound
	}
	return room, p, nil
}

// CreateTransport makes a WebRTC transport for the caller in the given
// direction and returns the client bootstrap parameters. A stale transport
// of the same direction is replaced.
func (o *Orchestrator) CreateTransport(ctx context.Context, socketID, direction string) (*media.TransportInfo, error) {
	room, p, err := o.participant(socketID)
	if err != nil {
		return nil, err
	}
	if p.IsViewer() {
		return nil, ErrViewerWebRTC
	}

	var dir media.TransportDirection
	switch direction {
	case string(media.DirectionSend):
		dir = media.DirectionSend
	case string(media.DirectionRecv):
		dir = media.DirectionRecv
	default:
		return nil, ErrInvalidDirection
	}

	callCtx, cancel := context.WithTimeout(ctx, mediaCallTimeout)
	defer cancel()
	transport, err := room.Router().CreateWebRtcTransport(callCtx, media.WebRtcTransportOptions{
		ListenIP:    o.opts.MediaListenIP,
		AnnouncedIP: o.opts.MediaAnnouncedIP,
		EnableUDP:   !o.opts.ForceTCP,
		EnableTCP:   true,
		PreferUDP:   !o.opts.ForceTCP,
		AppData: media.TransportAppData{
			RoomID:        room.ID,
			ParticipantID: p.ID,
			Direction:     dir,
		},
	})
	if err != nil {
		return nil, err
	}

	p.replaceTransport(dir, transport)

	info := transport.Info()
	return &info, nil
}

// ConnectTransport runs the DTLS handshake for one of the caller's
// transports. A handshake that exceeds the timeout closes the transport;
// the client must create a fresh one.
func (o *Orchestrator) ConnectTransport(ctx context.Context, socketID, transportID string, dtls webrtc.DTLSParameters) error {
	_, p, err := o.participant(socketID)
	if err != nil {
		return err
	}
	transport, ok := p.transport(transportID)
	if !ok {
		return ErrTransportNotFound
	}

	callCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := transport.Connect(callCtx, dtls); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			transport.Close()
			return ErrConnectTimeout
		}
		return err
	}
	return nil
}

// Produce starts ingesting one media kind from the caller and announces
// the new producer to the rest of the room.
func (o *Orchestrator) Produce(ctx context.Context, socketID, transportID, kind string, params media.RtpParameters) (string, error) {
	room, p, err := o.participant(socketID)
	if err != nil {
		return "", err
	}

	var mediaKind media.MediaKind
	switch kind {
	case string(media.MediaKindAudio):
		mediaKind = media.MediaKindAudio
	case string(media.MediaKindVideo):
		mediaKind = media.MediaKindVideo
	default:
		return "", ErrProduceFailed
	}

	transport, ok := p.transport(transportID)
	if !ok {
		return "", ErrTransportNotFound
	}
	if transport.AppData().Direction != media.DirectionSend {
		return "", ErrInvalidDirection
	}
	if _, exists := p.producerOfKind(mediaKind); exists {
		return "", ErrProduceFailed
	}

	callCtx, cancel := context.WithTimeout(ctx, mediaCallTimeout)
	defer cancel()
	producer, err := transport.Produce(callCtx, mediaKind, params, media.EndpointAppData{
		RoomID:        room.ID,
		ParticipantID: p.ID,
		MediaTag:      kind,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("participant_id", p.ID).Str("kind", kind).Msg("produce failed")
		return "", ErrProduceFailed
	}
	p.addProducer(producer)
	telemetry.ProducersActive.WithLabelValues(kind).Inc()

	producer.OnClose(func() {
		telemetry.ProducersActive.WithLabelValues(kind).Dec()
		o.toRoom(room.ID, "", "producer-closed", map[string]any{
			"producerId": producer.ID(),
		})
		if o.opts.Bus != nil {
			o.opts.Bus.Publish(events.EventProducerClosed, events.Payload{
				"room_id":     room.ID,
				"producer_id": producer.ID(),
			})
		}
		o.mirrorMediaFlags(p)
	})

	o.mirrorMediaFlags(p)
	o.toRoom(room.ID, socketID, "new-producer", map[string]any{
		"producerId":    producer.ID(),
		"participantId": p.ID,
		"kind":          kind,
	})
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventProducerCreated, events.Payload{
			"room_id":        room.ID,
			"participant_id": p.ID,
			"producer_id":    producer.ID(),
			"kind":           kind,
		})
	}

	o.pokeHLS(room, p, mediaKind)

	o.logger.Debug().
		Str("room_id", room.ID).
		Str("participant_id", p.ID).
		Str("producer_id", producer.ID()).
		Str("kind", kind).
		Msg("producer created")
	return producer.ID(), nil
}

// pokeHLS reacts to a new producer: the host's first audio brings the
// pipeline up, and material changes to a running pipeline schedule the
// debounced rebuild.
func (o *Orchestrator) pokeHLS(room *Room, p *Participant, kind media.MediaKind) {
	ctrl := room.HLS()
	switch ctrl.State() {
	case hls.StateOff:
		if p.IsHost() && kind == media.MediaKindAudio {
			go ctrl.AutoStart(context.Background())
		}
	case hls.StateRunning:
		if p.IsHost() && kind == media.MediaKindVideo {
			ctrl.RequestRestart()
			return
		}
		if !p.IsHost() {
			hasAudio, hasVideo := p.mediaFlags()
			if hasAudio && hasVideo {
				ctrl.RequestRestart()
			}
		}
	}
}

// mirrorMediaFlags pushes a participant's derived hasAudio/hasVideo pair
// into the store. Best effort.
func (o *Orchestrator) mirrorMediaFlags(p *Participant) {
	if o.opts.Store == nil {
		return
	}
	hasAudio, hasVideo := p.mediaFlags()
	ctx, cancel := context.WithTimeout(context.Background(), mediaCallTimeout)
	defer cancel()
	if err := o.opts.Store.SetParticipantMedia(ctx, p.ID, hasAudio, hasVideo); err != nil {
		o.logger.Warn().Err(err).Str("participant_id", p.ID).Msg("media flag mirror write failed")
	}
}

// Consume subscribes the caller to one producer over its recv transport.
// The consumer starts paused and is resumed after a short grace period so
// the client's transport can finish connecting first.
func (o *Orchestrator) Consume(ctx context.Context, socketID, producerID string, caps media.RtpCapabilities) (*ConsumeReply, error) {
	room, p, err := o.participant(socketID)
	if err != nil {
		return nil, err
	}
	if p.IsViewer() {
		return nil, ErrViewerWebRTC
	}

	router := room.Router()
	if _, ok := router.Producer(producerID); !ok {
		return nil, ErrProducerNotFound
	}
	transport, ok := p.recvTransport()
	if !ok {
		return nil, ErrTransportNotFound
	}
	if !router.CanConsume(producerID, caps) {
		return nil, ErrIncompatibleCapabilities
	}

	callCtx, cancel := context.WithTimeout(ctx, mediaCallTimeout)
	defer cancel()
	consumer, err := transport.Consume(callCtx, producerID, caps, media.EndpointAppData{
		RoomID:        room.ID,
		ParticipantID: p.ID,
	})
	if err != nil {
		if errors.Is(err, media.ErrProducerNotFound) {
			return nil, ErrProducerNotFound
		}
		o.logger.Warn().Err(err).Str("participant_id", p.ID).Str("producer_id", producerID).Msg("consume failed")
		return nil, ErrConsumeFailed
	}
	p.addConsumer(consumer)
	telemetry.ConsumersActive.Inc()

	timer := time.AfterFunc(consumerResumeDelay, func() {
		resumeCtx, cancelResume := context.WithTimeout(context.Background(), mediaCallTimeout)
		defer cancelResume()
		if err := consumer.Resume(resumeCtx); err != nil {
			o.logger.Debug().Err(err).Str("consumer_id", consumer.ID()).Msg("deferred consumer resume failed")
		}
	})
	consumer.OnClose(func() {
		timer.Stop()
		telemetry.ConsumersActive.Dec()
	})

	return &ConsumeReply{
		ID:            consumer.ID(),
		ProducerID:    producerID,
		Kind:          string(consumer.Kind()),
		RtpParameters: consumer.RtpParameters(),
	}, nil
}

// StartHLS brings the caller's room's pipeline up and returns the playlist
// URL. Host only.
func (o *Orchestrator) StartHLS(ctx context.Context, socketID, roomID string) (string, error) {
	room, p, err := o.participant(socketID)
	if err != nil {
		return "", err
	}
	if roomID != "" && roomID != room.ID {
		return "", ErrRoomNotFound
	}
	if !p.IsHost() {
		return "", ErrNotAuthorized
	}
	if err := room.HLS().Start(ctx); err != nil {
		return "", err
	}
	return room.HLS().PlaylistURL(), nil
}

// StopHLS tears the caller's room's pipeline down. Host only.
func (o *Orchestrator) StopHLS(ctx context.Context, socketID, roomID string) error {
	room, p, err := o.participant(socketID)
	if err != nil {
		return err
	}
	if roomID != "" && roomID != room.ID {
		return ErrRoomNotFound
	}
	if !p.IsHost() {
		return ErrNotAuthorized
	}
	return room.HLS().Stop()
}

// Close tears down every live room. The worker pool is closed by its own
// owner afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	rooms := make([]*Room, 0, len(o.rooms))
	for _, room := range o.rooms {
		rooms = append(rooms, room)
	}
	o.mu.Unlock()

	for _, room := range rooms {
		o.closeRoom(room)
	}
	o.logger.Info().Msg("orchestrator closed")
}
