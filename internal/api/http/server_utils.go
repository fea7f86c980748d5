package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mediastream/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
		return
	}
	if errors.Is(err, domain.ErrUnsupportedContainer) {
		writeError(w, http.StatusBadRequest, "unsupported_container", err.Error())
		return
	}
	if errors.Is(err, domain.ErrTranscoderNotFound) {
		writeError(w, http.StatusInternalServerError, "transcoder_not_found", err.Error())
		return
	}
	if errors.Is(err, domain.ErrTranscoderStart) {
		writeError(w, http.StatusInternalServerError, "transcoder_start_failed", err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange resolves a Range header to a single (start, end) pair.
// Multipart responses are not supported, so a comma-separated header
// collapses to one range: from the lowest requested start through at least
// collapseBytes past it, or through the highest requested end, whichever is
// larger. Suffix ranges ("-N") count from EOF.
func parseByteRange(value string, size, collapseBytes int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return 0, 0, errInvalidRange
	}
	specs := strings.Split(value[len("bytes="):], ",")
	if len(specs) == 0 {
		return 0, 0, errInvalidRange
	}

	start := int64(-1)
	maxEnd := int64(-1)
	for _, spec := range specs {
		s, e, err := parseRangeSpec(spec, size)
		if err != nil {
			return 0, 0, err
		}
		if start < 0 || s < start {
			start = s
		}
		if e > maxEnd {
			maxEnd = e
		}
	}
	if start < 0 {
		return 0, 0, errInvalidRange
	}
	if len(specs) == 1 {
		return start, maxEnd, nil
	}

	end := start + collapseBytes - 1
	if maxEnd > end {
		end = maxEnd
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, nil
}

func parseRangeSpec(spec string, size int64) (int64, int64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0, errInvalidRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		// Suffix range: last N bytes.
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	if endStr == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, errInvalidRange
	}
	if end < start {
		return 0, 0, errRangeNotSatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, nil
}

func fallbackContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	default:
		return "application/octet-stream"
	}
}
