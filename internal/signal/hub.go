/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signal is the websocket signaling plane. Each connection gets a
// socket id and a dispatcher that feeds requests to the room orchestrator
// one at a time; the hub fans orchestrator broadcasts back out to room
// members.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/duocast/internal/rooms"
	"github.com/friendsincode/duocast/internal/telemetry"
)

const (
	// sendBuffer is the per-connection outbound queue. A client that cannot
	// drain it loses broadcasts rather than stalling the room.
	sendBuffer = 32

	// requestBuffer bounds inbound requests awaiting dispatch.
	requestBuffer = 16

	pingInterval = 15 * time.Second
)

// Envelope is the signaling wire frame, both directions.
type Envelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	socketID string
	send     chan []byte
}

// Hub owns the connected signaling clients and implements the
// orchestrator's Notifier.
type Hub struct {
	orch   *rooms.Orchestrator
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates the hub and installs it as the orchestrator's broadcast
// sink.
func NewHub(orch *rooms.Orchestrator, logger zerolog.Logger) *Hub {
	h := &Hub{
		orch:    orch,
		logger:  logger.With().Str("component", "signal").Logger(),
		clients: make(map[string]*client),
	}
	orch.SetNotifier(h)
	return h
}

// ToRoom delivers an event to every member of the room except the named
// socket. Slow clients drop the message instead of blocking the caller.
func (h *Hub) ToRoom(roomID, exceptSocketID, event string, data any) {
	payload, err := json.Marshal(outbound{Type: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("marshal broadcast")
		return
	}

	for _, socketID := range h.orch.RoomSockets(roomID) {
		if socketID == exceptSocketID {
			continue
		}
		h.mu.Lock()
		c := h.clients[socketID]
		h.mu.Unlock()
		if c == nil {
			continue
		}
		select {
		case c.send <- payload:
			telemetry.SignalingMessagesTotal.WithLabelValues(event, "out").Inc()
		default:
			h.logger.Warn().Str("socket_id", socketID).Str("event", event).Msg("send queue full, dropping broadcast")
		}
	}
}

// HandleWebSocket upgrades the request and runs the connection until the
// client goes away. Disconnect cleanup is unconditional: whatever the
// connection owned in its room dies with it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	socketID := uuid.NewString()
	c := &client{socketID: socketID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[socketID] = c
	h.mu.Unlock()

	telemetry.SignalingConnectionsActive.Inc()
	h.logger.Debug().Str("socket_id", socketID).Msg("signaling connected")

	ctx := r.Context()
	defer func() {
		h.mu.Lock()
		delete(h.clients, socketID)
		h.mu.Unlock()
		h.orch.Disconnect(context.Background(), socketID)
		telemetry.SignalingConnectionsActive.Dec()
		h.logger.Debug().Str("socket_id", socketID).Msg("signaling disconnected")
	}()

	done := make(chan struct{})
	requestCh := make(chan Envelope, requestBuffer)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				h.logger.Debug().Err(err).Msg("websocket read error")
				return
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				h.logger.Warn().Err(err).Msg("invalid signaling message")
				continue
			}

			select {
			case requestCh <- env:
			default:
				h.logger.Warn().Str("socket_id", socketID).Msg("request channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := h.write(ctx, conn, outbound{Type: "ping"}); err != nil {
				h.logger.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case payload := <-c.send:
			if err := conn.Write(ctx, ws.MessageText, payload); err != nil {
				h.logger.Debug().Err(err).Msg("broadcast write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}

		case env := <-requestCh:
			reply, ok := h.dispatch(ctx, socketID, env)
			if !ok {
				continue
			}
			if err := h.write(ctx, conn, reply); err != nil {
				h.logger.Debug().Err(err).Msg("reply write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *ws.Conn, msg outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, payload)
}

// errorCode maps an orchestrator or pipeline error to its wire code.
func errorCode(err error) string {
	var coder interface{ ProtocolCode() string }
	if errors.As(err, &coder) {
		return coder.ProtocolCode()
	}
	return "INTERNAL_ERROR"
}
