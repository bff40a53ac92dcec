/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media is the client SDK for media-router worker processes. It
// spawns and supervises workers, and exposes routers, transports, producers
// and consumers as handles whose state lives in the worker. All wire types
// marshal to the camelCase JSON the worker protocol speaks.
package media

// MediaKind discriminates audio from video endpoints.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// TransportDirection tags what a transport is used for.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
	DirectionHLS  TransportDirection = "hls"
)

// RtcpFeedback describes an RTCP feedback mechanism supported by a codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability describes one codec a router can route.
type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            int            `json:"clockRate"`
	Channels             int            `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtension describes a negotiable RTP header extension.
type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
}

// RtpCapabilities is the codec and header-extension set a router (or client)
// can negotiate.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// RtpCodecParameters is a negotiated codec inside RtpParameters.
type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    int            `json:"clockRate"`
	Channels     int            `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpEncodingParameters describes one RTP stream of an endpoint.
type RtpEncodingParameters struct {
	Ssrc uint32 `json:"ssrc,omitempty"`
	Rid  string `json:"rid,omitempty"`
}

// RtcpParameters carries the RTCP configuration of an endpoint.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

// RtpParameters is the full negotiated sending or receiving description of a
// producer or consumer.
type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
	Rtcp      RtcpParameters          `json:"rtcp"`
}

// TransportAppData is attached to every transport at creation time.
type TransportAppData struct {
	RoomID        string             `json:"roomId,omitempty"`
	ParticipantID string             `json:"participantId,omitempty"`
	Direction     TransportDirection `json:"direction,omitempty"`
}

// EndpointAppData is attached to every producer and consumer.
type EndpointAppData struct {
	RoomID        string `json:"roomId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	MediaTag      string `json:"mediaTag,omitempty"`
}

// DefaultHeaderExtensions returns the RTP header extensions advertised in
// router capabilities.
func DefaultHeaderExtensions() []RtpHeaderExtension {
	return []RtpHeaderExtension{
		{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		{Kind: MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
		{Kind: MediaKindAudio, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
		{Kind: MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
		{Kind: MediaKindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 13},
	}
}

// DefaultMediaCodecs is the fixed codec set every room router is created
// with: Opus stereo, VP8, and baseline H.264 so browser and mobile senders
// can both publish without transcoding.
func DefaultMediaCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{
			Kind:                 MediaKindAudio,
			MimeType:             "audio/opus",
			PreferredPayloadType: 100,
			ClockRate:            48000,
			Channels:             2,
			Parameters: map[string]any{
				"minptime":     10,
				"useinbandfec": 1,
			},
		},
		{
			Kind:                 MediaKindVideo,
			MimeType:             "video/VP8",
			PreferredPayloadType: 101,
			ClockRate:            90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
		{
			Kind:                 MediaKindVideo,
			MimeType:             "video/H264",
			PreferredPayloadType: 102,
			ClockRate:            90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
	}
}
