package apihttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mediastream/internal/domain"
	"mediastream/internal/metrics"
)

var moovMarker = []byte("moov")

// findMoovOffset scans the first limit bytes of the file for the moov atom
// marker. A hit near the front means the file is fast-start and can be served
// whole; a miss means the index sits at the tail.
func findMoovOffset(ra io.ReaderAt, limit int64) (int64, bool) {
	if limit <= 0 {
		return 0, false
	}
	buf := make([]byte, limit)
	n, _ := ra.ReadAt(buf, 0)
	if n <= 0 {
		return 0, false
	}
	idx := bytes.Index(buf[:n], moovMarker)
	if idx < 0 {
		return 0, false
	}
	return int64(idx), true
}

func isProgressiveMP4(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return true
	default:
		return false
	}
}

// serveFile is the progressive range server. Responses always carry a weak
// validator pair and Content-Encoding: identity so no intermediary breaks the
// range math with transparent compression.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file domain.MediaFile) {
	f, err := os.Open(file.Path)
	if err != nil {
		if os.IsNotExist(err) {
			writeDomainError(w, domain.ErrNotFound)
			return
		}
		writeDomainError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	size := info.Size()

	h := w.Header()
	h.Set("Content-Type", fallbackContentType(filepath.Ext(file.Path)))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-transform, private, max-age=0, must-revalidate")
	h.Set("Content-Encoding", "identity")
	h.Set("ETag", fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), size))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	mp4 := isProgressiveMP4(file.Path)
	rangeHeader := r.Header.Get("Range")

	if rangeHeader == "" {
		if mp4 {
			scan := s.cfg.MoovScanBytes
			if scan > size {
				scan = size
			}
			off, found := findMoovOffset(f, scan)
			if !found || off > s.cfg.FastStartBytes {
				// moov sits at the tail. Synthesize an initial partial
				// response so the player's first probe sees the index
				// without pulling the whole file.
				end := s.cfg.PseudoInitialBytes - 1
				if end > size-1 {
					end = size - 1
				}
				h.Set("X-Pseudo-Initial", "1")
				metrics.RangeRequestsTotal.WithLabelValues("pseudo-initial").Inc()
				s.writeRange(w, r, f, 0, end, size)
				return
			}
		}
		metrics.RangeRequestsTotal.WithLabelValues("full").Inc()
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		s.copyRange(r.Context(), w, f, 0, size-1)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size, s.cfg.PseudoInitialBytes)
	if err != nil {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		metrics.RangeRequestsTotal.WithLabelValues("unsatisfiable").Inc()
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "bad_range", "range not satisfiable")
		return
	}

	// A tiny first request on a non-fast-start MP4 stalls players that need
	// the moov box before asking for more. Expand it to the minimum chunk.
	if mp4 && start == 0 && end-start+1 < s.cfg.MinInitialRangeBytes {
		window := end + 1
		if window > s.cfg.MoovScanBytes {
			window = s.cfg.MoovScanBytes
		}
		if _, found := findMoovOffset(f, window); !found {
			end = s.cfg.MinInitialRangeBytes - 1
			if end > size-1 {
				end = size - 1
			}
		}
	}

	metrics.RangeRequestsTotal.WithLabelValues("partial").Inc()
	s.writeRange(w, r, f, start, end, size)
}

func (s *Server) writeRange(w http.ResponseWriter, r *http.Request, f *os.File, start, end, size int64) {
	h := w.Header()
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	s.copyRange(r.Context(), w, f, start, end)
}

// copyRange streams [start,end] in fixed-size chunks, stopping as soon as the
// client goes away.
func (s *Server) copyRange(ctx context.Context, w http.ResponseWriter, f *os.File, start, end int64) {
	chunk := s.cfg.ReadChunkBytes
	if chunk <= 0 {
		chunk = 2 << 20
	}
	buf := make([]byte, chunk)
	flusher, _ := w.(http.Flusher)

	offset := start
	remaining := end - start + 1
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		read, err := f.ReadAt(buf[:n], offset)
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			offset += int64(read)
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}

// serveJobArtifact streams a playlist, init segment or media segment from a
// job's working directory.
func (s *Server) serveJobArtifact(w http.ResponseWriter, r *http.Request, job *transcodeJob, name string) {
	path := filepath.Join(job.dir, name)
	f, err := os.Open(path)
	if err != nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeDomainError(w, domain.ErrNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", fallbackContentType(filepath.Ext(name)))
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, f)
}

// validSegmentName accepts only the artifact names the encoder itself writes:
// the playlist, the fmp4 init segment, and numbered segments matching the
// job's container. Anything with path separators is rejected outright.
func validSegmentName(job *transcodeJob, name string) bool {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return false
	}
	if name == "index.m3u8" {
		return true
	}
	if name == "init.mp4" {
		return job.sig.Container == containerFMP4
	}
	return strings.HasPrefix(name, "seg-") && strings.HasSuffix(name, job.segmentExt())
}
