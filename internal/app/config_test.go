package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected default addr %q", cfg.HTTPAddr)
	}
	if cfg.FFMPEGPath != "ffmpeg" || cfg.FFProbePath != "ffprobe" {
		t.Errorf("unexpected default binaries %q / %q", cfg.FFMPEGPath, cfg.FFProbePath)
	}
	if cfg.MinInitialRangeBytes != 1<<20 {
		t.Errorf("unexpected min initial range %d", cfg.MinInitialRangeBytes)
	}
	if cfg.PseudoInitialBytes != 4<<20 {
		t.Errorf("unexpected pseudo-initial size %d", cfg.PseudoInitialBytes)
	}
	if cfg.SegmentSeconds != 2 || cfg.GOPSize != 48 {
		t.Errorf("unexpected HLS defaults: %d s, gop %d", cfg.SegmentSeconds, cfg.GOPSize)
	}
	if cfg.JobIdleTimeout != 10*time.Minute {
		t.Errorf("unexpected idle timeout %v", cfg.JobIdleTimeout)
	}
	if cfg.AudioLangDefault != "eng" {
		t.Errorf("unexpected audio language %q", cfg.AudioLangDefault)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("expected no default origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("PROBE_TIMEOUT_MS", "500")
	t.Setenv("PSEUDO_INITIAL_BYTES", "1048576")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SEGMENT_TOKEN_SECRET", "s3cret")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.FFMPEGPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("unexpected ffmpeg path %q", cfg.FFMPEGPath)
	}
	if cfg.ProbeTimeout != 500*time.Millisecond {
		t.Errorf("unexpected probe timeout %v", cfg.ProbeTimeout)
	}
	if cfg.PseudoInitialBytes != 1<<20 {
		t.Errorf("unexpected pseudo-initial size %d", cfg.PseudoInitialBytes)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.SegmentTokenKey != "s3cret" {
		t.Errorf("unexpected token secret %q", cfg.SegmentTokenKey)
	}
}

func TestLoadConfig_BadIntegerFallsBack(t *testing.T) {
	t.Setenv("HLS_SEGMENT_SECONDS", "not-a-number")
	t.Setenv("READ_CHUNK_BYTES", "-5")

	cfg := LoadConfig()

	if cfg.SegmentSeconds != 2 {
		t.Errorf("garbage integer must fall back to the default, got %d", cfg.SegmentSeconds)
	}
	if cfg.ReadChunkBytes != 2<<20 {
		t.Errorf("negative integer must fall back to the default, got %d", cfg.ReadChunkBytes)
	}
}
