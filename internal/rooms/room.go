/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rooms

import (
	"sync"
	"time"

	"github.com/friendsincode/duocast/internal/hls"
	"github.com/friendsincode/duocast/internal/media"
)

// maxStreamers caps the number of WebRTC participants per room. The mixed
// HLS layout is built for a host plus one guest.
const maxStreamers = 2

// RoomSnapshot is the wire representation of a room.
type RoomSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	HLSUrl    string    `json:"hlsUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProducerInfo identifies a live producer and its owner for late joiners.
type ProducerInfo struct {
	ProducerID    string `json:"producerId"`
	ParticipantID string `json:"participantId"`
	Kind          string `json:"kind"`
}

// Room binds a media router, its participants, and the room's HLS pipeline.
// Admission and membership changes are serialized on the room mutex; media
// operations run against the participant's own endpoints outside it.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time

	router *media.Router
	hls    *hls.Controller

	mu           sync.Mutex
	participants []*Participant
	bySocket     map[string]*Participant
	byID         map[string]*Participant
	closed       bool
}

func newRoom(id, name string, router *media.Router) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		router:    router,
		bySocket:  make(map[string]*Participant),
		byID:      make(map[string]*Participant),
	}
}

// Router returns the room's media router.
func (r *Room) Router() *media.Router { return r.router }

// HLS returns the room's transcoder controller.
func (r *Room) HLS() *hls.Controller { return r.hls }

// admit checks the admission rules and inserts the participant atomically.
// The first streamer to arrive becomes the host regardless of the requested
// role; a second host is rejected, and a third streamer of any kind is
// rejected.
func (r *Room) admit(socketID, name string, role Role) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomNotFound
	}

	if role != RoleViewer {
		streamers := 0
		hostPresent := false
		for _, p := range r.participants {
			if p.IsViewer() {
				continue
			}
			streamers++
			if p.IsHost() {
				hostPresent = true
			}
		}
		if role == RoleHost && hostPresent {
			return nil, ErrHostExists
		}
		if streamers >= maxStreamers {
			return nil, ErrRoomFull
		}
		if !hostPresent {
			role = RoleHost
		}
	}

	p := newParticipant(r.ID, socketID, name, role)
	r.participants = append(r.participants, p)
	r.bySocket[socketID] = p
	r.byID[p.ID] = p
	return p, nil
}

// removeParticipant drops the socket's participant from the membership
// indexes and returns it for teardown.
func (r *Room) removeParticipant(socketID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.bySocket[socketID]
	if !ok {
		return nil, false
	}
	delete(r.bySocket, socketID)
	delete(r.byID, p.ID)
	for i, other := range r.participants {
		if other == p {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	return p, true
}

// participantBySocket resolves a signaling connection to its participant.
func (r *Room) participantBySocket(socketID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySocket[socketID]
	return p, ok
}

// Participants returns the membership in join order.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Streamers counts the non-viewer participants.
func (r *Room) Streamers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.participants {
		if !p.IsViewer() {
			n++
		}
	}
	return n
}

// Empty reports whether nobody is left in the room.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// producerSnapshot lists the live producers for a join reply, streamers in
// join order and each streamer's producers in produce order.
func (r *Room) producerSnapshot() []ProducerInfo {
	out := make([]ProducerInfo, 0, 4)
	for _, p := range r.Participants() {
		if p.IsViewer() {
			continue
		}
		for _, producer := range p.liveProducers() {
			out = append(out, ProducerInfo{
				ProducerID:    producer.ID(),
				ParticipantID: p.ID,
				Kind:          string(producer.Kind()),
			})
		}
	}
	return out
}

// hlsSources builds the transcoder input set in deterministic order so the
// host lands on the left tile of the composite.
func (r *Room) hlsSources() []hls.Source {
	out := make([]hls.Source, 0, 4)
	for _, p := range r.Participants() {
		if p.IsViewer() {
			continue
		}
		for _, producer := range p.liveProducers() {
			out = append(out, hls.Source{
				ProducerID:    producer.ID(),
				ParticipantID: p.ID,
				Kind:          producer.Kind(),
			})
		}
	}
	return out
}

// snapshot renders the wire form of the room. The HLS URL is read from the
// controller so it is only set while a transcoder is actually up.
func (r *Room) snapshot() RoomSnapshot {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	url := ""
	if r.hls != nil {
		url = r.hls.PlaylistURL()
	}
	return RoomSnapshot{
		ID:        r.ID,
		Name:      r.Name,
		IsActive:  !closed,
		HLSUrl:    url,
		CreatedAt: r.CreatedAt,
	}
}

// close tears the room down: transcoder first so it stops consuming, then
// participants, then the router. Idempotent.
func (r *Room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	participants := r.participants
	r.participants = nil
	r.bySocket = map[string]*Participant{}
	r.byID = map[string]*Participant{}
	r.mu.Unlock()

	if r.hls != nil {
		r.hls.Shutdown()
	}
	for _, p := range participants {
		p.close()
	}
	r.router.Close()
}
