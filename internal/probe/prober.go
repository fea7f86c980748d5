package probe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mediastream/internal/domain"
	"mediastream/internal/metrics"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultCacheSize = 256
)

// MetadataSink receives codec facts discovered by a fresh probe. Writes are
// best-effort; failures are logged and ignored.
type MetadataSink interface {
	SaveProbeFacts(ctx context.Context, fileID string, probe domain.ProbeResult, size int64) error
}

// runFunc executes the probing subprocess and returns its stdout. Tests
// substitute it to avoid spawning a real ffprobe.
type runFunc func(ctx context.Context, binary string, args []string) ([]byte, error)

func execRun(ctx context.Context, binary string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}

// Prober runs ffprobe against source files and memoizes results keyed by
// (absolute path, mtime). A file replaced on disk invalidates its entry
// implicitly through the mtime component of the key.
type Prober struct {
	binary  string
	timeout time.Duration
	cache   *resultCache
	group   singleflight.Group
	sink    MetadataSink
	logger  *slog.Logger
	run     runFunc
	stat    statFunc
}

type Option func(*Prober)

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithCacheSize(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.cache = newResultCache(n)
		}
	}
}

func WithMetadataSink(sink MetadataSink) Option {
	return func(p *Prober) {
		p.sink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

func New(binary string, opts ...Option) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	p := &Prober{
		binary:  bin,
		timeout: defaultTimeout,
		cache:   newResultCache(defaultCacheSize),
		logger:  slog.Default(),
		run:     execRun,
		stat:    osStat,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the codec facts for the file at path. It never returns an
// error: any subprocess failure, timeout or parse problem degrades to an
// empty ProbeResult, which downstream decision code treats as "not
// direct-playable".
func (p *Prober) Probe(ctx context.Context, path string) domain.ProbeResult {
	result, _ := p.ProbeFile(ctx, "", path)
	return result
}

// ProbeFile is Probe plus the metadata write-back hook: when fileID is
// non-empty and the probe came from a subprocess rather than the cache, the
// facts are handed to the configured sink. The bool reports a cache hit.
func (p *Prober) ProbeFile(ctx context.Context, fileID, path string) (domain.ProbeResult, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info, err := p.stat(abs)
	if err != nil {
		return domain.ProbeResult{}, false
	}

	key := cacheKey{path: abs, mtimeNano: info.ModTime().UnixNano()}
	if cached, ok := p.cache.get(key); ok {
		metrics.ProbeCacheHits.Inc()
		return cached, true
	}
	metrics.ProbeCacheMisses.Inc()

	// Concurrent requests for the same key share one subprocess.
	value, _, _ := p.group.Do(keyString(key), func() (interface{}, error) {
		return p.probeUncached(ctx, key, abs), nil
	})
	result := value.(domain.ProbeResult)

	if fileID != "" && p.sink != nil && !result.Empty() {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.sink.SaveProbeFacts(sinkCtx, fileID, result, info.Size()); err != nil {
			p.logger.Debug("probe metadata write-back failed",
				slog.String("fileId", fileID),
				slog.String("error", err.Error()),
			)
		}
	}
	return result, false
}

func (p *Prober) probeUncached(ctx context.Context, key cacheKey, path string) domain.ProbeResult {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(runCtx, p.binary, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	})
	if err != nil {
		p.logger.Debug("ffprobe failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return domain.ProbeResult{}
	}

	result, err := parseProbeOutput(out)
	if err != nil {
		p.logger.Debug("ffprobe parse failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return domain.ProbeResult{}
	}

	p.cache.put(key, result)
	return result
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Profile     string            `json:"profile"`
	PixFmt      string            `json:"pix_fmt"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Channels    int               `json:"channels"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	BitRate string `json:"bit_rate"`
}

// parseProbeOutput keeps only the first video and first audio stream; every
// missing field stays at its zero value.
func parseProbeOutput(data []byte) (domain.ProbeResult, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.ProbeResult{}, err
	}
	if len(payload.Streams) == 0 {
		return domain.ProbeResult{}, errors.New("no streams reported")
	}

	var result domain.ProbeResult
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if result.VideoCodec != "" {
				continue
			}
			result.VideoCodec = stream.CodecName
			result.VideoProfile = stream.Profile
			result.PixelFormat = stream.PixFmt
			result.Width = stream.Width
			result.Height = stream.Height
		case "audio":
			if result.AudioCodec != "" {
				continue
			}
			result.AudioCodec = stream.CodecName
			result.AudioChannels = stream.Channels
		}
	}
	if payload.Format.BitRate != "" {
		if rate, err := strconv.ParseInt(payload.Format.BitRate, 10, 64); err == nil && rate > 0 {
			result.BitRate = rate
		}
	}
	return result, nil
}

func keyString(key cacheKey) string {
	return key.path + "\x00" + strconv.FormatInt(key.mtimeNano, 10)
}
