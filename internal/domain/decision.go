package domain

import (
	"path/filepath"
	"strings"
)

// Capabilities is the set of container/codec combinations a client can play,
// derived per request from its user-agent string and never persisted.
type Capabilities struct {
	H264AACInMP4  bool
	HEVCAACInMP4  bool
	VP9OpusInWebM bool
}

// DecisionKind enumerates the playback strategies the server can take for a
// progressive request.
type DecisionKind int

const (
	DecisionDirectPlay DecisionKind = iota
	DecisionRemuxCopy
	DecisionRemuxTranscode
	DecisionFatal
)

var decisionNames = [...]string{"direct-play", "remux-copy", "remux-transcode", "fatal"}

func (k DecisionKind) String() string {
	if int(k) < len(decisionNames) {
		return decisionNames[k]
	}
	return "unknown"
}

// Decision is the outcome of the playback decision algorithm. Reason is set
// only for DecisionFatal.
type Decision struct {
	Kind           DecisionKind
	TranscodeAudio bool
	Reason         string
}

// Decide runs the full decision table for a progressive playback request.
func Decide(path string, probe ProbeResult, caps Capabilities) Decision {
	if IsDirectPlayOK(path, probe, caps) {
		return Decision{Kind: DecisionDirectPlay}
	}
	d := Decision{Kind: DecisionRemuxTranscode, TranscodeAudio: !CanCopyAudio(probe)}
	if CanCopyVideo(probe, caps) {
		d.Kind = DecisionRemuxCopy
	}
	return d
}

// IsDirectPlayOK reports whether the file can be served byte-for-byte to a
// client with the given capabilities. An empty probe (failed probing) always
// yields false: when in doubt, remux.
func IsDirectPlayOK(path string, probe ProbeResult, caps Capabilities) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		if !is8Bit420(probe) {
			return false
		}
		switch probe.VideoCodec {
		case "h264":
			return probe.AudioCodec == "aac" || probe.AudioCodec == "mp3"
		case "hevc", "h265":
			return probe.AudioCodec == "aac" && caps.HEVCAACInMP4
		}
		return false
	case ".webm":
		if !caps.VP9OpusInWebM {
			return false
		}
		videoOK := probe.VideoCodec == "vp9" || probe.VideoCodec == "vp8"
		audioOK := probe.AudioCodec == "opus" || probe.AudioCodec == "vorbis"
		return videoOK && audioOK
	default:
		return false
	}
}

// CanCopyVideo reports whether the video stream can be stream-copied into a
// new container without re-encoding. HEVC copy is only worthwhile when the
// eventual player can decode HEVC at all.
func CanCopyVideo(probe ProbeResult, caps Capabilities) bool {
	if !is8Bit420(probe) {
		return false
	}
	switch probe.VideoCodec {
	case "h264":
		return true
	case "hevc", "h265":
		return caps.HEVCAACInMP4
	}
	return false
}

// CanCopyAudio reports whether the audio stream is already in a codec every
// targeted container accepts.
func CanCopyAudio(probe ProbeResult) bool {
	return probe.AudioCodec == "aac" || probe.AudioCodec == "mp3"
}

// is8Bit420 checks for plain 8-bit 4:2:0 video. Profiles carrying a 10-bit
// or 4:2:2/4:4:4 marker fail even when the reported pixel format matches.
func is8Bit420(probe ProbeResult) bool {
	if probe.VideoCodec == "" {
		return false
	}
	if probe.PixelFormat != "yuv420p" && probe.PixelFormat != "yuvj420p" {
		return false
	}
	profile := strings.ToLower(probe.VideoProfile)
	if strings.Contains(profile, "10") || strings.Contains(profile, "422") || strings.Contains(profile, "444") {
		return false
	}
	return true
}
