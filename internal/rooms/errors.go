/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rooms

// ProtocolError is a stable error code surfaced to signaling clients as the
// in-band reply to a failed request.
type ProtocolError string

func (e ProtocolError) Error() string { return string(e) }

// ProtocolCode returns the wire error code.
func (e ProtocolError) ProtocolCode() string { return string(e) }

// Admission errors.
const (
	ErrHostExists    ProtocolError = "HOST_EXISTS"
	ErrRoomFull      ProtocolError = "ROOM_FULL"
	ErrRoomNotFound  ProtocolError = "ROOM_NOT_FOUND"
	ErrNotAuthorized ProtocolError = "NOT_AUTHORIZED"
)

// Protocol errors.
const (
	ErrParticipantNotFound ProtocolError = "PARTICIPANT_NOT_FOUND"
	ErrTransportNotFound   ProtocolError = "TRANSPORT_NOT_FOUND"
	ErrProducerNotFound    ProtocolError = "PRODUCER_NOT_FOUND"
	ErrInvalidDirection    ProtocolError = "INVALID_DIRECTION"
	ErrViewerWebRTC        ProtocolError = "VIEWER_CANNOT_CONSUME_WEBRTC"
)

// Media errors.
const (
	ErrIncompatibleCapabilities ProtocolError = "INCOMPATIBLE_CAPABILITIES"
	ErrConnectTimeout           ProtocolError = "TRANSPORT_CONNECT_TIMEOUT"
	ErrProduceFailed            ProtocolError = "PRODUCE_FAILED"
	ErrConsumeFailed            ProtocolError = "CONSUME_FAILED"
)

// Infrastructure errors, broadcast to affected rooms rather than returned.
const (
	ErrWorkerDied ProtocolError = "WORKER_DIED"
	ErrRouterGone ProtocolError = "ROUTER_GONE"
)
