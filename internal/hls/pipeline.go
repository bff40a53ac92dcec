/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hls

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/friendsincode/duocast/internal/media"
)

const (
	maxVideoInputs = 2
	maxAudioInputs = 2

	segmentSeconds   = 4
	playlistSegments = 5
)

// Source is a candidate producer for the composite stream. The orchestrator
// hands these over ordered by participant join time, then by produce time
// within a participant.
type Source struct {
	ProducerID    string
	ParticipantID string
	Kind          media.MediaKind
}

// selectSources picks the streams that feed the transcoder: at most two
// video and two audio producers, with the incoming order preserved inside
// each kind.
func selectSources(sources []Source) (videos, audios []Source) {
	for _, src := range sources {
		switch src.Kind {
		case media.MediaKindVideo:
			if len(videos) < maxVideoInputs {
				videos = append(videos, src)
			}
		case media.MediaKindAudio:
			if len(audios) < maxAudioInputs {
				audios = append(audios, src)
			}
		}
	}
	return videos, audios
}

// transcoderArgs assembles the ffmpeg invocation reading the SDP bridge at
// sdpPath and writing a rolling segment playlist under segmentDir. Two
// videos are stacked side by side into a 1920x540 frame, a single video is
// scaled to 1280x720, two audios are mixed down to one track.
func transcoderArgs(sdpPath, segmentDir string, videoCount, audioCount int) []string {
	args := []string{
		"-protocol_whitelist", "file,udp,rtp",
		"-i", sdpPath,
	}

	var filters []string
	switch videoCount {
	case 2:
		filters = append(filters,
			"[0:v:0]scale=960:540[v0]",
			"[0:v:1]scale=960:540[v1]",
			"[v0][v1]hstack=inputs=2[vout]",
		)
	case 1:
		filters = append(filters, "[0:v:0]scale=1280:720[vout]")
	}
	if audioCount == 2 {
		filters = append(filters, "[0:a:0][0:a:1]amix=inputs=2:duration=longest[aout]")
	}
	if len(filters) > 0 {
		args = append(args, "-filter_complex", strings.Join(filters, ";"))
	}

	if videoCount > 0 {
		args = append(args,
			"-map", "[vout]",
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
		)
	}
	switch audioCount {
	case 2:
		args = append(args, "-map", "[aout]")
	case 1:
		args = append(args, "-map", "0:a:0")
	}
	args = append(args, "-c:a", "aac")

	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", strconv.Itoa(playlistSegments),
		"-hls_flags", "delete_segments",
		filepath.Join(segmentDir, "playlist.m3u8"),
	)
}
