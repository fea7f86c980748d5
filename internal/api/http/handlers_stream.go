package apihttp

import (
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mediastream/internal/client"
	"mediastream/internal/domain"
	"mediastream/internal/metrics"
	"mediastream/internal/token"
)

const manifestWaitTimeout = 8 * time.Second

// handleStream dispatches everything under /stream/:
//
//	GET/HEAD /stream/{id}/file
//	GET      /stream/{id}/remux
//	GET      /stream/{id}/auto
//	GET      /stream/{id}/master.m3u8
//	GET      /stream/{id}/hls/{jobId}/{artifact}
//	POST     /stream/emergency-cleanup
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stream/"), "/")
	if rest == "emergency-cleanup" {
		s.handleEmergencyCleanup(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown stream route")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "file":
		s.handleFile(w, r, id)
	case len(parts) == 2 && parts[1] == "remux":
		s.handleRemux(w, r, id)
	case len(parts) == 2 && parts[1] == "auto":
		s.handleAuto(w, r, id)
	case len(parts) == 2 && parts[1] == "master.m3u8":
		s.handleManifest(w, r, id)
	case len(parts) == 4 && parts[1] == "hls":
		s.handleHLSArtifact(w, r, id, parts[2], parts[3])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown stream route")
	}
}

// handleVideosCompat mirrors the HLS endpoints under the path family a
// common client generation expects:
//
//	GET /Videos/{itemId}/master.m3u8
//	GET /Videos/{itemId}/hls/{jobId}/{artifact}
func (s *Server) handleVideosCompat(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/Videos/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "master.m3u8":
		s.handleManifest(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "hls":
		s.handleHLSArtifact(w, r, parts[0], parts[2], parts[3])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

// authorized accepts a session credential, or a token query parameter with
// the given audience and subject when one is configured.
func (s *Server) authorized(r *http.Request, audience, subject string) bool {
	if s.auth.Authorize(r) {
		return true
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return false
	}
	return s.tokens.Verify(raw, audience, subject) == nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, fileID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or HEAD required")
		return
	}
	if !s.authorized(r, token.AudienceFile, fileID) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	file, err := s.resolver.Resolve(r.Context(), fileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.serveFile(w, r, file)
}

func (s *Server) handleRemux(w http.ResponseWriter, r *http.Request, fileID string) {
	if !s.auth.Authorize(r) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	file, err := s.resolver.Resolve(r.Context(), fileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	probe, _ := s.prober.ProbeFile(r.Context(), file.ID, file.Path)
	caps := client.Detect(r.UserAgent())

	copyVideo := domain.CanCopyVideo(probe, caps)
	transcodeAudio := !domain.CanCopyAudio(probe)
	audioTrack := s.pickAudioTrack(r, file.Path)

	pathTag := "remux-transcode"
	if copyVideo {
		pathTag = "remux-copy"
		metrics.PlaybackDecisionsTotal.WithLabelValues(domain.DecisionRemuxCopy.String()).Inc()
	} else {
		metrics.PlaybackDecisionsTotal.WithLabelValues(domain.DecisionRemuxTranscode.String()).Inc()
	}
	s.serveRemux(w, r, file, copyVideo, transcodeAudio, audioTrack, pathTag)
}

// handleAuto runs the full decision table. Direct-playable files redirect to
// the range endpoint; everything else falls through to the remux pipeline.
func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request, fileID string) {
	if !s.auth.Authorize(r) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	file, err := s.resolver.Resolve(r.Context(), fileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	probe, _ := s.prober.ProbeFile(r.Context(), file.ID, file.Path)
	caps := client.Detect(r.UserAgent())
	decision := domain.Decide(file.Path, probe, caps)
	metrics.PlaybackDecisionsTotal.WithLabelValues(decision.Kind.String()).Inc()

	s.logger.Debug("playback decision",
		slog.String("fileId", file.ID),
		slog.String("kind", decision.Kind.String()),
		slog.String("videoCodec", probe.VideoCodec),
		slog.String("audioCodec", probe.AudioCodec),
	)

	switch decision.Kind {
	case domain.DecisionDirectPlay:
		target := "/stream/" + url.PathEscape(fileID) + "/file"
		if len(s.cfg.SegmentTokenKey) > 0 {
			if tok, err := s.tokens.Issue(token.AudienceFile, fileID); err == nil {
				target += "?token=" + url.QueryEscape(tok)
			}
		}
		http.Redirect(w, r, target, http.StatusFound)
	case domain.DecisionRemuxCopy:
		s.serveRemux(w, r, file, true, decision.TranscodeAudio, s.pickAudioTrack(r, file.Path), "auto-remux-copy")
	case domain.DecisionRemuxTranscode:
		s.serveRemux(w, r, file, false, decision.TranscodeAudio, s.pickAudioTrack(r, file.Path), "auto-remux-transcode")
	default:
		writeError(w, http.StatusBadRequest, "unsupported_container", decision.Reason)
	}
}

// pickAudioTrack reads the aidx/alang query parameters and runs the audio
// selection ladder.
func (s *Server) pickAudioTrack(r *http.Request, path string) int {
	forced := -1
	if raw := strings.TrimSpace(r.URL.Query().Get("aidx")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			forced = parsed
		}
	}
	lang := strings.TrimSpace(r.URL.Query().Get("alang"))
	if lang == "" {
		lang = s.cfg.AudioLangDefault
	}
	return s.prober.SelectAudioTrack(r.Context(), path, forced, lang)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, itemID string) {
	if !s.authorized(r, token.AudienceSegment, itemID) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	file, err := s.resolver.Resolve(r.Context(), itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	container := strings.ToLower(strings.TrimSpace(q.Get("container")))
	if container == "" {
		container = containerTS
	}
	vcodec := strings.ToLower(strings.TrimSpace(q.Get("vcodec")))
	acodec := strings.ToLower(strings.TrimSpace(q.Get("acodec")))

	job, err := s.jobs.getOrCreate(itemID, file.Path, container, vcodec, acodec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.jobs.startOrWarm(job, s.pickAudioTrack(r, file.Path)); err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.jobs.waitForPlaylist(job, manifestWaitTimeout) {
		writeError(w, http.StatusInternalServerError, "transcoder_start_failed",
			"encoder produced no playlist in time")
		return
	}

	data, err := os.ReadFile(job.playlist)
	if err != nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	tok, err := s.tokens.Issue(token.AudienceSegment, job.id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.jobs.touch(job)

	base := "/stream/" + url.PathEscape(itemID) + "/hls/" + job.id
	rewritten := rewritePlaylist(data, base, tok)

	h := w.Header()
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

func (s *Server) handleHLSArtifact(w http.ResponseWriter, r *http.Request, itemID, jobID, name string) {
	job, ok := s.jobs.lookup(jobID)
	if !ok {
		// Stale manifest from an evicted job; fall back to the item's most
		// recent job so long-running players survive a re-spawn.
		job, ok = s.jobs.latestJobForItem(itemID)
		if !ok {
			writeDomainError(w, domain.ErrNotFound)
			return
		}
	}
	if !s.authorized(r, token.AudienceSegment, job.id) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	if !validSegmentName(job, name) {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	s.jobs.touch(job)

	if name == "index.m3u8" {
		data, err := os.ReadFile(job.playlist)
		if err != nil {
			writeDomainError(w, domain.ErrNotFound)
			return
		}
		tok, err := s.tokens.Issue(token.AudienceSegment, job.id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		base := "/stream/" + url.PathEscape(itemID) + "/hls/" + job.id
		h := w.Header()
		h.Set("Content-Type", "application/vnd.apple.mpegurl")
		h.Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rewritePlaylist(data, base, tok))
		return
	}

	s.serveJobArtifact(w, r, job, name)
}

func (s *Server) handleEmergencyCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if !s.auth.Authorize(r) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	s.logger.Warn("emergency cleanup requested", slog.String("clientIP", clientIP(r)))
	s.jobs.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
