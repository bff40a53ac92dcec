/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rooms

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/duocast/internal/media"
)

// Role classifies a participant. Hosts and guests are streamers with WebRTC
// endpoints; viewers only read the HLS output.
type Role string

const (
	RoleHost   Role = "host"
	RoleGuest  Role = "guest"
	RoleViewer Role = "viewer"
)

// ParseRole maps the wire role string to a classification. Anything that is
// not a viewer is a streamer; the host flag is assigned by admission, so
// unknown values fall back to guest.
func ParseRole(s string) Role {
	switch s {
	case string(RoleViewer):
		return RoleViewer
	case string(RoleHost):
		return RoleHost
	default:
		return RoleGuest
	}
}

// Participant is one signaling connection's presence in a room. The role is
// fixed at admission; endpoint collections are mutated by the connection's
// dispatcher and by close propagation, both under the participant mutex.
type Participant struct {
	ID       string
	RoomID   string
	SocketID string
	Name     string
	Role     Role
	JoinedAt time.Time

	mu         sync.Mutex
	transports []*media.WebRtcTransport
	producers  []*media.Producer
	consumers  []*media.Consumer
	closed     bool
}

func newParticipant(roomID, socketID, name string, role Role) *Participant {
	return &Participant{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SocketID: socketID,
		Name:     name,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
}

// IsHost reports whether this participant controls the room.
func (p *Participant) IsHost() bool { return p.Role == RoleHost }

// IsViewer reports whether this participant is HLS-only.
func (p *Participant) IsViewer() bool { return p.Role == RoleViewer }

// Closed reports whether the participant has been torn down.
func (p *Participant) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Participant) addTransport(t *media.WebRtcTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transports = append(p.transports, t)
}

// replaceTransport installs a new transport for a direction, closing any
// live transport previously held for it. A participant keeps at most one
// send and one recv transport.
func (p *Participant) replaceTransport(dir media.TransportDirection, t *media.WebRtcTransport) {
	p.mu.Lock()
	var stale *media.WebRtcTransport
	for _, existing := range p.transports {
		if existing.AppData().Direction == dir && !existing.Closed() {
			stale = existing
			break
		}
	}
	p.transports = append(p.transports, t)
	p.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
}

// transport returns the owned transport with the given id, live or not.
func (p *Participant) transport(id string) (*media.WebRtcTransport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// recvTransport finds the participant's live receive-direction transport.
func (p *Participant) recvTransport() (*media.WebRtcTransport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		if t.AppData().Direction == media.DirectionRecv && !t.Closed() {
			return t, true
		}
	}
	return nil, false
}

func (p *Participant) addProducer(producer *media.Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers = append(p.producers, producer)
}

func (p *Participant) addConsumer(consumer *media.Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, consumer)
}

// liveProducers returns the non-closed producers in produce order.
func (p *Participant) liveProducers() []*media.Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*media.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		if !producer.Closed() {
			out = append(out, producer)
		}
	}
	return out
}

// producerOfKind returns the live producer of the given kind, if any. A
// streamer holds at most one per kind.
func (p *Participant) producerOfKind(kind media.MediaKind) (*media.Producer, bool) {
	for _, producer := range p.liveProducers() {
		if producer.Kind() == kind {
			return producer, true
		}
	}
	return nil, false
}

// mediaFlags derives the hasAudio/hasVideo pair from the live producer set.
func (p *Participant) mediaFlags() (hasAudio, hasVideo bool) {
	for _, producer := range p.liveProducers() {
		switch producer.Kind() {
		case media.MediaKindAudio:
			hasAudio = true
		case media.MediaKindVideo:
			hasVideo = true
		}
	}
	return hasAudio, hasVideo
}

// close tears down every owned transport, which cascades into producers and
// consumers. Idempotent.
func (p *Participant) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := p.transports
	p.transports = nil
	p.producers = nil
	p.consumers = nil
	p.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}
