package apihttp

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"mediastream/internal/domain"
	"mediastream/internal/metrics"
)

// buildHLSArgs constructs the segmenting ffmpeg invocation. Relative output
// paths are used; the process runs with the job directory as its cwd.
func (m *jobManager) buildHLSArgs(job *transcodeJob, vcodec string, audioTrack int) []string {
	segDur := m.cfg.SegmentSeconds
	if segDur <= 0 {
		segDur = 2
	}
	gop := m.cfg.GOPSize
	if gop <= 0 {
		gop = 48
	}
	segDurStr := strconv.Itoa(segDur)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "+genpts",
		"-i", job.srcPath,
		"-map", "0:v:0",
		"-map", fmt.Sprintf("0:a:%d?", audioTrack),
		"-sn", "-dn",
	}

	if vcodec == videoCodecCopy {
		args = append(args, "-c:v", "copy")
		if job.sig.Container == containerTS {
			// MP4-style H.264 needs Annex-B framing inside MPEG-TS.
			args = append(args, "-bsf:v", "h264_mp4toannexb")
		}
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", m.cfg.Preset,
			"-crf", strconv.Itoa(m.cfg.CRF),
			"-pix_fmt", "yuv420p",
			"-g", strconv.Itoa(gop),
			"-keyint_min", strconv.Itoa(gop),
			"-sc_threshold", "0",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segDur),
			"-fps_mode", "cfr",
		)
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", m.cfg.AudioBitrate,
		"-ar", "48000",
		"-ac", "2",
		"-avoid_negative_ts", "make_zero",
		"-f", "hls",
		"-hls_time", segDurStr,
		"-hls_playlist_type", "event",
		"-hls_list_size", "0",
	)

	if job.sig.Container == containerFMP4 {
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", "init.mp4",
			"-hls_segment_filename", "seg-%05d.m4s",
		)
	} else {
		args = append(args, "-hls_segment_filename", "seg-%05d.ts")
	}

	args = append(args, "index.m3u8")
	return args
}

// startOrWarm launches the job's encoder if it is not already running. A
// "copy" video request that dies within the grace window is retried once with
// software encoding before the failure is surfaced.
func (m *jobManager) startOrWarm(job *transcodeJob, audioTrack int) error {
	job.startMu.Lock()
	defer job.startMu.Unlock()

	if job.proc != nil && job.proc.Alive() {
		return nil
	}

	vcodec := job.sig.VideoCodec
	proc, err := m.launch(job, vcodec, audioTrack)
	if err == nil && vcodec == videoCodecCopy && !m.survivesGrace(proc) {
		m.logger.Warn("hls stream copy failed, retrying with software encoding",
			slog.String("jobId", job.id),
			slog.String("stderr", strings.TrimSpace(proc.Stderr())),
		)
		metrics.HLSFallbacksTotal.Inc()
		m.mu.Lock()
		m.totalFallbacks++
		m.mu.Unlock()
		m.events("job_fallback", job.id, job.sig.ItemID, jobStarting.String())

		vcodec = videoCodecH264
		proc, err = m.launch(job, vcodec, audioTrack)
	}
	if err != nil {
		m.recordFailure(job, err)
		return err
	}
	if !m.survivesGrace(proc) {
		startErr := fmt.Errorf("%w: encoder exited during startup: %s",
			domain.ErrTranscoderStart, strings.TrimSpace(proc.Stderr()))
		m.recordFailure(job, startErr)
		return startErr
	}

	m.mu.Lock()
	job.proc = proc
	job.actualVideoCodec = vcodec
	job.fallbackUsed = vcodec != job.sig.VideoCodec
	m.mu.Unlock()
	m.recordStart(job)
	return nil
}

func (m *jobManager) launch(job *transcodeJob, vcodec string, audioTrack int) (process, error) {
	args := m.buildHLSArgs(job, vcodec, audioTrack)
	m.logger.Debug("hls encoder starting",
		slog.String("jobId", job.id),
		slog.String("vcodec", vcodec),
		slog.Int("audioTrack", audioTrack),
	)
	return m.startProc(m.cfg.FFMPEGPath, args, job.dir)
}

// survivesGrace reports whether the process is still alive after the start
// grace delay. An instant exit signals a broken invocation (typically a copy
// attempt the muxer rejects).
func (m *jobManager) survivesGrace(proc process) bool {
	grace := m.cfg.StartGraceDelay
	if grace <= 0 {
		grace = 750 * time.Millisecond
	}
	select {
	case <-proc.Done():
		return false
	case <-time.After(grace):
		return proc.Alive()
	}
}

// waitForPlaylist polls until the playlist exists and references at least one
// segment, so a manifest response is never empty and unplayable.
func (m *jobManager) waitForPlaylist(job *transcodeJob, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if data, err := os.ReadFile(job.playlist); err == nil && bytes.Contains(data, []byte("#EXTINF")) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(120 * time.Millisecond)
	}
}

// rewritePlaylist points every segment and init URI at the authenticated
// segment endpoint and forces an EVENT playlist type so players keep
// refreshing while the encoder appends.
func rewritePlaylist(data []byte, segmentBase, tok string) []byte {
	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines)+1)
	hasType := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE") {
			hasType = true
		}
	}

	rewriteURI := func(name string) string {
		return segmentBase + "/" + name + "?token=" + tok
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#EXT-X-MAP:"):
			if start := strings.Index(trimmed, `URI="`); start >= 0 {
				rest := trimmed[start+len(`URI="`):]
				if end := strings.Index(rest, `"`); end >= 0 {
					uri := rest[:end]
					trimmed = trimmed[:start] + `URI="` + rewriteURI(uri) + `"` + rest[end+1:]
				}
			}
			out = append(out, trimmed)
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			out = append(out, trimmed)
			if trimmed == "#EXTM3U" && !hasType {
				out = append(out, "#EXT-X-PLAYLIST-TYPE:EVENT")
				hasType = true
			}
		default:
			out = append(out, rewriteURI(trimmed))
		}
	}
	return []byte(strings.Join(out, "\n"))
}
