// Package client infers playback capabilities from a client identifier
// string, typically the HTTP User-Agent. The rules are deliberately coarse:
// an unknown client degrades to the H.264/AAC baseline that everything ships
// a decoder for.
package client

import (
	"strings"

	"mediastream/internal/domain"
)

// Detect maps a client identifier to its capability set. The three rules are
// evaluated independently; they are not mutually exclusive.
func Detect(identifier string) domain.Capabilities {
	ua := strings.TrimSpace(identifier)
	if ua == "" {
		// Most conservative set: baseline only.
		return domain.Capabilities{H264AACInMP4: true}
	}

	caps := domain.Capabilities{H264AACInMP4: true}

	// HEVC in MP4: Safari family and iOS devices. Firefox spoofs enough of
	// the Safari string on some platforms that it must win the tiebreak.
	if (isSafariFamily(ua) || isIOS(ua)) && !strings.Contains(ua, "Firefox") {
		caps.HEVCAACInMP4 = true
	}

	// VP9/Opus in WebM: everything except genuine Safari.
	caps.VP9OpusInWebM = !isSafariFamily(ua)

	return caps
}

// isSafariFamily matches Safari proper. Chromium-based browsers also carry
// "Safari" in their user-agent, so a Chromium token rules them out.
func isSafariFamily(ua string) bool {
	if !strings.Contains(ua, "Safari") {
		return false
	}
	for _, token := range []string{"Chrome", "Chromium", "CriOS", "Edg"} {
		if strings.Contains(ua, token) {
			return false
		}
	}
	return true
}

func isIOS(ua string) bool {
	return strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iPod")
}
