/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/rooms"
	"github.com/friendsincode/duocast/internal/telemetry"
)

// dispatch handles one client request and builds its reply. Requests on a
// connection are handled strictly in arrival order; the bool result is
// false when the message needs no reply.
func (h *Hub) dispatch(ctx context.Context, socketID string, env Envelope) (outbound, bool) {
	telemetry.SignalingMessagesTotal.WithLabelValues(env.Type, "in").Inc()

	reply := outbound{Type: env.Type, ID: env.ID}

	fail := func(code string) (outbound, bool) {
		reply.Data = map[string]string{"error": code}
		return reply, true
	}
	failErr := func(err error) (outbound, bool) {
		h.logger.Debug().Err(err).Str("socket_id", socketID).Str("type", env.Type).Msg("request failed")
		return fail(errorCode(err))
	}

	switch env.Type {
	case "join-room":
		var req struct {
			RoomID string `json:"roomId"`
			Name   string `json:"name"`
			Role   string `json:"role"`
		}
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				return fail("BAD_REQUEST")
			}
		}
		if req.RoomID == "" {
			req.RoomID = env.RoomID
		}
		joined, err := h.orch.Join(ctx, socketID, rooms.JoinRequest{
			RoomID: req.RoomID,
			Name:   req.Name,
			Role:   req.Role,
		})
		if err != nil {
			return failErr(err)
		}
		reply.Data = joined
		return reply, true

	case "leave-room":
		h.orch.Leave(ctx, socketID)
		reply.Data = map[string]bool{"left": true}
		return reply, true

	case "create-transport":
		var req struct {
			Direction string `json:"direction"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fail("BAD_REQUEST")
		}
		info, err := h.orch.CreateTransport(ctx, socketID, req.Direction)
		if err != nil {
			return failErr(err)
		}
		reply.Data = info
		return reply, true

	case "connect-transport":
		var req struct {
			TransportID    string                `json:"transportId"`
			DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fail("BAD_REQUEST")
		}
		if err := h.orch.ConnectTransport(ctx, socketID, req.TransportID, req.DTLSParameters); err != nil {
			return failErr(err)
		}
		reply.Data = map[string]bool{"connected": true}
		return reply, true

	case "produce":
		var req struct {
			TransportID   string              `json:"transportId"`
			Kind          string              `json:"kind"`
			RtpParameters media.RtpParameters `json:"rtpParameters"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fail("BAD_REQUEST")
		}
		producerID, err := h.orch.Produce(ctx, socketID, req.TransportID, req.Kind, req.RtpParameters)
		if err != nil {
			return failErr(err)
		}
		reply.Data = map[string]string{"id": producerID}
		return reply, true

	case "consume":
		var req struct {
			ProducerID      string                `json:"producerId"`
			RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fail("BAD_REQUEST")
		}
		consumed, err := h.orch.Consume(ctx, socketID, req.ProducerID, req.RtpCapabilities)
		if err != nil {
			return failErr(err)
		}
		reply.Data = consumed
		return reply, true

	case "start-hls":
		// The playlist URL travels on the hls-started broadcast, not the ack.
		if _, err := h.orch.StartHLS(ctx, socketID, env.RoomID); err != nil {
			return failErr(err)
		}
		return reply, true

	case "stop-hls":
		if err := h.orch.StopHLS(ctx, socketID, env.RoomID); err != nil {
			return failErr(err)
		}
		return reply, true

	case "pong":
		return outbound{}, false

	default:
		h.logger.Warn().Str("type", env.Type).Msg("unknown message type")
		return fail("UNKNOWN_TYPE")
	}
}
