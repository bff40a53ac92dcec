/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hls

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/friendsincode/duocast/internal/media"
)

// MediaInput describes one plain RTP stream feeding the transcoder: where
// it lands locally and how it is encoded.
type MediaInput struct {
	Kind         media.MediaKind
	Port         int
	PayloadType  uint8
	EncodingName string
	ClockRate    int
	Channels     int
}

// inputFromConsumer derives the transcoder-facing description of a consumer
// bound to a plain transport.
func inputFromConsumer(c *media.Consumer, t *media.PlainTransport) (MediaInput, error) {
	codecs := c.RtpParameters().Codecs
	if len(codecs) == 0 {
		return MediaInput{}, fmt.Errorf("consumer %s has no negotiated codec", c.ID())
	}
	codec := codecs[0]

	parts := strings.SplitN(codec.MimeType, "/", 2)
	if len(parts) != 2 {
		return MediaInput{}, fmt.Errorf("consumer %s has malformed mime type %q", c.ID(), codec.MimeType)
	}

	return MediaInput{
		Kind:         c.Kind(),
		Port:         t.Tuple().LocalPort,
		PayloadType:  codec.PayloadType,
		EncodingName: parts[1],
		ClockRate:    codec.ClockRate,
		Channels:     codec.Channels,
	}, nil
}

// marshalSDP renders the session description the transcoder reads: one
// media line per input, all landing on loopback, RTCP on the next port up.
func marshalSDP(roomID string, inputs []MediaInput) ([]byte, error) {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: sdp.SessionName("duocast " + roomID),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	for _, in := range inputs {
		rtpmap := fmt.Sprintf("%d %s/%d", in.PayloadType, in.EncodingName, in.ClockRate)
		if in.Kind == media.MediaKindAudio && in.Channels > 1 {
			rtpmap = fmt.Sprintf("%s/%d", rtpmap, in.Channels)
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   string(in.Kind),
				Port:    sdp.RangedPort{Value: in.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{strconv.Itoa(int(in.PayloadType))},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("rtpmap", rtpmap),
			},
		})
	}

	return desc.Marshal()
}
