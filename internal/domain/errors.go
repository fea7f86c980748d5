package domain

import "errors"

var (
	// ErrNotFound covers missing catalog rows, missing files on disk and
	// missing jobs or segments alike; handlers map it to 404.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when neither a session credential nor a
	// valid stream token accompanies the request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedContainer is returned for an HLS container parameter
	// other than "ts" or "fmp4".
	ErrUnsupportedContainer = errors.New("unsupported container")

	// ErrTranscoderNotFound means the ffmpeg executable could not be
	// located at the configured path.
	ErrTranscoderNotFound = errors.New("transcoder not found")

	// ErrTranscoderStart means ffmpeg was found but exited immediately,
	// after the copy-to-encode fallback (where applicable) was attempted.
	ErrTranscoderStart = errors.New("transcoder failed to start")
)
