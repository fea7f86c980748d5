package apihttp

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"

	"mediastream/internal/domain"
	"mediastream/internal/metrics"
)

// buildRemuxArgs constructs the one-shot progressive pipeline invocation.
// The mux flags produce fragmented MP4 so bytes flow before the encoder has
// seen the whole input, and the resample filter pins audio timestamps to
// zero to stop drift on transcoded tracks.
func buildRemuxArgs(src string, copyVideo, transcodeAudio bool, audioTrack int, preset string, crf int, audioBitrate string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-map", "0:v:0",
		"-map", fmt.Sprintf("0:a:%d?", audioTrack),
		"-sn", "-dn",
	}

	if copyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", preset,
			"-crf", strconv.Itoa(crf),
			"-pix_fmt", "yuv420p",
		)
	}

	if transcodeAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", audioBitrate,
			"-af", "aresample=async=1:first_pts=0",
		)
	} else {
		args = append(args, "-c:a", "copy")
	}

	args = append(args,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-muxdelay", "0",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// serveRemux runs the pipeline and streams its stdout to the response. The
// command inherits the request context, so a client disconnect kills the
// subprocess immediately.
func (s *Server) serveRemux(w http.ResponseWriter, r *http.Request, file domain.MediaFile, copyVideo, transcodeAudio bool, audioTrack int, pathTag string) {
	args := buildRemuxArgs(file.Path, copyVideo, transcodeAudio, audioTrack,
		s.cfg.Preset, s.cfg.CRF, s.cfg.AudioBitrate)

	cmd := exec.CommandContext(r.Context(), s.cfg.FFMPEGPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			writeDomainError(w, fmt.Errorf("%w: %s", domain.ErrTranscoderNotFound, s.cfg.FFMPEGPath))
			return
		}
		writeDomainError(w, err)
		return
	}

	s.logger.Info("remux pipeline started",
		slog.String("fileId", file.ID),
		slog.String("path", pathTag),
		slog.Bool("copyVideo", copyVideo),
		slog.Bool("transcodeAudio", transcodeAudio),
		slog.Int("audioTrack", audioTrack),
	)
	metrics.RemuxSessionsTotal.WithLabelValues(pathTag).Inc()

	h := w.Header()
	h.Set("Content-Type", "video/mp4")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Encoding", "identity")
	h.Set("X-AMS-Path", pathTag)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	chunk := s.cfg.ReadChunkBytes
	if chunk <= 0 {
		chunk = 2 << 20
	}
	buf := make([]byte, chunk)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client went away; CommandContext already has the kill
				// wired to the request context.
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}

	if err := cmd.Wait(); err != nil && r.Context().Err() == nil {
		s.logger.Warn("remux pipeline exited with error",
			slog.String("fileId", file.ID),
			slog.String("error", err.Error()),
			slog.String("stderr", truncate(stderr.String(), 512)),
		)
	}
}
