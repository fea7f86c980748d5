package probe

import (
	"context"
	"errors"
	"testing"

	"mediastream/internal/domain"
)

const multiAudioJSON = `{
	"streams": [
		{"codec_type": "audio", "codec_name": "ac3", "channels": 6, "tags": {"language": "jpn"}},
		{"codec_type": "audio", "codec_name": "aac", "channels": 2, "tags": {"language": "eng", "title": "Director Commentary"}},
		{"codec_type": "audio", "codec_name": "aac", "channels": 6, "tags": {"language": "eng"}, "disposition": {"default": 1}},
		{"codec_type": "audio", "codec_name": "aac", "channels": 2, "tags": {"language": "spa"}}
	]
}`

func audioProber(t *testing.T, payload string, fail bool) *Prober {
	t.Helper()
	return newTestProber(
		func(context.Context, string, []string) ([]byte, error) {
			if fail {
				return nil, errors.New("probe failed")
			}
			return []byte(payload), nil
		},
		nil,
	)
}

func TestSelectAudioTrack_PrefersDefaultLanguageMatch(t *testing.T) {
	p := audioProber(t, multiAudioJSON, false)
	// Stream 2 is default-flagged, eng, non-commentary; the commentary track
	// at index 1 also matches eng but must be skipped.
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, "en"); got != 2 {
		t.Errorf("expected track 2, got %d", got)
	}
}

func TestSelectAudioTrack_LanguageAliasesFold(t *testing.T) {
	p := audioProber(t, multiAudioJSON, false)
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, "spa"); got != 3 {
		t.Errorf("expected spa track 3, got %d", got)
	}
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, "es"); got != 3 {
		t.Errorf("expected two-letter alias to match, got %d", got)
	}
}

func TestSelectAudioTrack_FallsBackToDefaultFlag(t *testing.T) {
	p := audioProber(t, multiAudioJSON, false)
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, "fre"); got != 2 {
		t.Errorf("no language match should fall back to the default-flagged track, got %d", got)
	}
}

func TestSelectAudioTrack_StereoFallback(t *testing.T) {
	payload := `{"streams": [
		{"codec_type": "audio", "codec_name": "aac", "channels": 1},
		{"codec_type": "audio", "codec_name": "aac", "channels": 2}
	]}`
	p := audioProber(t, payload, false)
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, ""); got != 1 {
		t.Errorf("expected first stereo-or-better track, got %d", got)
	}
}

func TestSelectAudioTrack_ForcedIndexClampedToStreamCount(t *testing.T) {
	p := audioProber(t, multiAudioJSON, false)
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", 99, "eng"); got != 3 {
		t.Errorf("forced index past the end must clamp to the last stream, got %d", got)
	}
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", 1, "eng"); got != 1 {
		t.Errorf("in-range forced index must win over the ladder, got %d", got)
	}
}

func TestSelectAudioTrack_ProbeFailureDegradesToZero(t *testing.T) {
	p := audioProber(t, "", true)
	if got := p.SelectAudioTrack(context.Background(), "/m/file.mkv", -1, "eng"); got != 0 {
		t.Errorf("probe failure must select stream 0, got %d", got)
	}
}

func TestIsCommentary(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"Director Commentary", true},
		{"Descriptive Audio", true},
		{"English Narration", true},
		{"Surround 5.1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCommentary(domain.AudioTrack{Title: tt.title}); got != tt.want {
			t.Errorf("isCommentary(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}
