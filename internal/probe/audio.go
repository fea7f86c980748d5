package probe

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"mediastream/internal/domain"
)

// langAliases folds the common two- and three-letter language tags together
// so "en" requests match "eng"-tagged streams and vice versa.
var langAliases = map[string]string{
	"en": "eng", "eng": "eng",
	"es": "spa", "spa": "spa",
	"de": "ger", "ger": "ger", "deu": "ger",
	"fr": "fre", "fre": "fre", "fra": "fre",
	"it": "ita", "ita": "ita",
	"ja": "jpn", "jpn": "jpn",
	"ru": "rus", "rus": "rus",
	"pt": "por", "por": "por",
}

func normalizeLang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := langAliases[tag]; ok {
		return canonical
	}
	return tag
}

// isCommentary spots commentary, descriptive-audio and narration tracks by
// their title tag so the ladder can skip them for the primary pick.
func isCommentary(track domain.AudioTrack) bool {
	title := strings.ToLower(track.Title)
	for _, marker := range []string{"commentary", "descriptive", "description", "narration", "narrator"} {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return false
}

// ListAudioTracks probes every audio stream of the file. On any failure it
// returns nil; SelectAudioTrack degrades to stream 0 in that case.
func (p *Prober) ListAudioTracks(ctx context.Context, path string) []domain.AudioTrack {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(runCtx, p.binary, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a",
		path,
	})
	if err != nil {
		p.logger.Debug("audio stream probe failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var payload probePayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil
	}

	tracks := make([]domain.AudioTrack, 0, len(payload.Streams))
	for i, stream := range payload.Streams {
		if stream.CodecType != "" && stream.CodecType != "audio" {
			continue
		}
		tracks = append(tracks, domain.AudioTrack{
			Index:    i,
			Codec:    stream.CodecName,
			Language: normalizeLang(stream.Tags["language"]),
			Title:    stream.Tags["title"],
			Channels: stream.Channels,
			Default:  stream.Disposition.Default == 1,
		})
	}
	return tracks
}

// SelectAudioTrack picks the audio stream index to map into the output. A
// forced index (>= 0) wins after clamping to the available stream count.
// Otherwise the ladder runs: default-flagged non-commentary stream in the
// preferred language, then any non-commentary language match, then any
// default-flagged stream, then any language match, then the first stereo-or-
// better stream, then stream 0.
func (p *Prober) SelectAudioTrack(ctx context.Context, path string, forced int, preferredLang string) int {
	tracks := p.ListAudioTracks(ctx, path)

	if forced >= 0 {
		if len(tracks) > 0 && forced >= len(tracks) {
			return len(tracks) - 1
		}
		return forced
	}
	if len(tracks) == 0 {
		return 0
	}

	lang := normalizeLang(preferredLang)

	if lang != "" {
		for _, t := range tracks {
			if t.Default && t.Language == lang && !isCommentary(t) {
				return t.Index
			}
		}
		for _, t := range tracks {
			if t.Language == lang && !isCommentary(t) {
				return t.Index
			}
		}
	}
	for _, t := range tracks {
		if t.Default {
			return t.Index
		}
	}
	if lang != "" {
		for _, t := range tracks {
			if t.Language == lang {
				return t.Index
			}
		}
	}
	for _, t := range tracks {
		if t.Channels >= 2 {
			return t.Index
		}
	}
	return tracks[0].Index
}
