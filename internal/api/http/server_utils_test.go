package apihttp

import (
	"errors"
	"testing"
)

const testCollapseBytes = int64(4 << 20)

func TestParseByteRange_SingleRanges(t *testing.T) {
	tests := []struct {
		name   string
		header string
		size   int64
		start  int64
		end    int64
	}{
		{"explicit", "bytes=100-199", 1000, 100, 199},
		{"open ended", "bytes=100-", 1000, 100, 999},
		{"from zero", "bytes=0-", 1000, 0, 999},
		{"suffix", "bytes=-100", 1000, 900, 999},
		{"suffix larger than file", "bytes=-5000", 1000, 0, 999},
		{"end clamped to eof", "bytes=500-9999", 1000, 500, 999},
		{"whitespace tolerated", "bytes= 10 - 20 ", 1000, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseByteRange(tt.header, tt.size, testCollapseBytes)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tt.start || end != tt.end {
				t.Errorf("got (%d,%d), want (%d,%d)", start, end, tt.start, tt.end)
			}
		})
	}
}

func TestParseByteRange_MultiRangeCollapses(t *testing.T) {
	size := int64(10 << 20)
	start, end, err := parseByteRange("bytes=900-999,0-10", size, testCollapseBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 {
		t.Errorf("collapsed range must start at the lowest requested start, got %d", start)
	}
	if end != testCollapseBytes-1 {
		t.Errorf("collapsed range must extend to the collapse window, got %d", end)
	}
}

func TestParseByteRange_MultiRangeKeepsLargestEnd(t *testing.T) {
	size := int64(10 << 20)
	far := size - 1
	start, end, err := parseByteRange("bytes=0-10,9000000-", size, testCollapseBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 || end != far {
		t.Errorf("got (%d,%d), want (0,%d)", start, end, far)
	}
}

func TestParseByteRange_MultiRangeClampedToFile(t *testing.T) {
	start, end, err := parseByteRange("bytes=900-999,0-10", 1000, testCollapseBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 || end != 999 {
		t.Errorf("got (%d,%d), want (0,999)", start, end)
	}
}

func TestParseByteRange_Unsatisfiable(t *testing.T) {
	for _, header := range []string{"bytes=2000-", "bytes=1000-", "bytes=500-100"} {
		if _, _, err := parseByteRange(header, 1000, testCollapseBytes); !errors.Is(err, errRangeNotSatisfiable) {
			t.Errorf("%q: expected errRangeNotSatisfiable, got %v", header, err)
		}
	}
}

func TestParseByteRange_Malformed(t *testing.T) {
	for _, header := range []string{"", "items=0-10", "bytes=", "bytes=-", "bytes=abc-def", "bytes=-0"} {
		if _, _, err := parseByteRange(header, 1000, testCollapseBytes); err == nil {
			t.Errorf("%q: expected an error", header)
		}
	}
}

func TestParseByteRange_EmptyFile(t *testing.T) {
	if _, _, err := parseByteRange("bytes=0-", 0, testCollapseBytes); !errors.Is(err, errRangeNotSatisfiable) {
		t.Errorf("expected errRangeNotSatisfiable on empty file, got %v", err)
	}
}

func TestFallbackContentType(t *testing.T) {
	tests := map[string]string{
		".mp4":  "video/mp4",
		".M4V":  "video/mp4",
		".mkv":  "video/x-matroska",
		".webm": "video/webm",
		".ts":   "video/mp2t",
		".m4s":  "video/iso.segment",
		".m3u8": "application/vnd.apple.mpegurl",
		".bin":  "application/octet-stream",
	}
	for ext, want := range tests {
		if got := fallbackContentType(ext); got != want {
			t.Errorf("fallbackContentType(%q) = %q, want %q", ext, got, want)
		}
	}
}
