package hls

import (
	"strings"
	"testing"

	"github.com/friendsincode/duocast/internal/media"
)

func TestMarshalSDP(t *testing.T) {
	inputs := []MediaInput{
		{Kind: media.MediaKindVideo, Port: 40000, PayloadType: 101, EncodingName: "VP8", ClockRate: 90000},
		{Kind: media.MediaKindAudio, Port: 40002, PayloadType: 100, EncodingName: "opus", ClockRate: 48000, Channels: 2},
	}

	body, err := marshalSDP("room-1", inputs)
	if err != nil {
		t.Fatalf("marshal sdp: %v", err)
	}

	text := string(body)
	if !strings.HasPrefix(text, "v=0") {
		t.Fatalf("sdp must start with a version line:\n%s", text)
	}

	for _, want := range []string{
		"c=IN IP4 127.0.0.1",
		"m=video 40000 RTP/AVP 101",
		"a=rtpmap:101 VP8/90000",
		"m=audio 40002 RTP/AVP 100",
		"a=rtpmap:100 opus/48000/2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("sdp missing %q:\n%s", want, text)
		}
	}
}

func TestMarshalSDPMonoAudioHasNoChannelSuffix(t *testing.T) {
	body, err := marshalSDP("room-1", []MediaInput{
		{Kind: media.MediaKindAudio, Port: 40004, PayloadType: 97, EncodingName: "PCMU", ClockRate: 8000, Channels: 1},
	})
	if err != nil {
		t.Fatalf("marshal sdp: %v", err)
	}

	if !strings.Contains(string(body), "a=rtpmap:97 PCMU/8000\r") {
		t.Fatalf("mono rtpmap must omit the channel count:\n%s", body)
	}
}
