package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	MongoURI       string
	MongoDatabase  string
	MediaDataDir   string
	AllowedOrigins []string

	// AuthBearerToken is the static credential checked when no external auth
	// service is wired in. Empty means every request is accepted.
	AuthBearerToken string

	FFMPEGPath  string
	FFProbePath string

	ProbeTimeout   time.Duration
	ProbeCacheSize int

	// Range Server knobs. All byte counts.
	MinInitialRangeBytes int64 // smallest first chunk served for an MP4 whose moov wasn't seen yet
	MoovScanBytes        int64 // how far into the file to look for the moov atom
	FastStartBytes       int64 // moov at or before this offset counts as fast-start
	PseudoInitialBytes   int64 // size of the synthesized initial range
	ReadChunkBytes       int64

	// HLS knobs.
	HLSDir            string
	SegmentSeconds    int
	GOPSize           int
	Preset            string
	CRF               int
	AudioBitrate      string
	AudioLangDefault  string
	JobIdleTimeout    time.Duration
	ReaperInterval    time.Duration
	StartGraceDelay   time.Duration
	SegmentTokenKey   string
	SegmentTokenTTL   time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MongoURI:       getEnv("MONGO_URI", ""),
		MongoDatabase:  getEnv("MONGO_DB", "mediastream"),
		MediaDataDir:   getEnv("MEDIA_DATA_DIR", "data"),
		AllowedOrigins: splitCommaList(getEnv("ALLOWED_ORIGINS", "")),

		AuthBearerToken: getEnv("AUTH_BEARER_TOKEN", ""),

		FFMPEGPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath: getEnv("FFPROBE_PATH", "ffprobe"),

		ProbeTimeout:   time.Duration(getEnvInt64("PROBE_TIMEOUT_MS", 3000)) * time.Millisecond,
		ProbeCacheSize: int(getEnvInt64("PROBE_CACHE_SIZE", 256)),

		MinInitialRangeBytes: getEnvInt64("MIN_INITIAL_RANGE_BYTES", 1<<20),
		MoovScanBytes:        getEnvInt64("MOOV_SCAN_BYTES", 3<<20),
		FastStartBytes:       getEnvInt64("FAST_START_BYTES", 512<<10),
		PseudoInitialBytes:   getEnvInt64("PSEUDO_INITIAL_BYTES", 4<<20),
		ReadChunkBytes:       getEnvInt64("READ_CHUNK_BYTES", 2<<20),

		HLSDir:           getEnv("HLS_DIR", ""),
		SegmentSeconds:   int(getEnvInt64("HLS_SEGMENT_SECONDS", 2)),
		GOPSize:          int(getEnvInt64("HLS_GOP", 48)),
		Preset:           getEnv("HLS_PRESET", "veryfast"),
		CRF:              int(getEnvInt64("HLS_CRF", 23)),
		AudioBitrate:     getEnv("HLS_AUDIO_BITRATE", "128k"),
		AudioLangDefault: getEnv("AUDIO_LANG_DEFAULT", "eng"),
		JobIdleTimeout:   time.Duration(getEnvInt64("JOB_IDLE_TIMEOUT_S", 600)) * time.Second,
		ReaperInterval:   time.Duration(getEnvInt64("REAPER_INTERVAL_S", 15)) * time.Second,
		StartGraceDelay:  time.Duration(getEnvInt64("START_GRACE_DELAY_MS", 750)) * time.Millisecond,
		SegmentTokenKey:  getEnv("SEGMENT_TOKEN_SECRET", ""),
		SegmentTokenTTL:  time.Duration(getEnvInt64("SEGMENT_TOKEN_TTL_S", 300)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func splitCommaList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
