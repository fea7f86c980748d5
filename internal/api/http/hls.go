package apihttp

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediastream/internal/app"
	"mediastream/internal/domain"
	"mediastream/internal/metrics"
)

const (
	containerTS   = "ts"
	containerFMP4 = "fmp4"

	videoCodecCopy = "copy"
	videoCodecH264 = "h264"
	audioCodecAAC  = "aac"
)

// jobSignature is the deterministic identity of a transcode job. Two requests
// with equal signatures always share one job and one working directory.
type jobSignature struct {
	ItemID         string
	Container      string
	VideoCodec     string
	AudioCodec     string
	SegmentSeconds int
}

func (s jobSignature) id() string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		s.ItemID, s.Container, s.VideoCodec, s.AudioCodec, s.SegmentSeconds)))
	return hex.EncodeToString(sum[:])[:16]
}

type jobState int

const (
	jobStarting jobState = iota
	jobRunning
	jobFailed
)

var jobStateNames = [...]string{"starting", "running", "failed"}

func (s jobState) String() string {
	if int(s) < len(jobStateNames) {
		return jobStateNames[s]
	}
	return "unknown"
}

// transcodeJob is one live segmenting subprocess plus its on-disk artifacts.
// Field access goes through the owning jobManager's mutex except for startMu,
// which serializes start attempts so the grace-delay wait never holds the
// registry lock.
type transcodeJob struct {
	id       string
	sig      jobSignature
	srcPath  string
	dir      string
	playlist string

	startMu sync.Mutex
	proc    process

	// actualVideoCodec diverges from sig.VideoCodec after a copy→encode
	// fallback.
	actualVideoCodec string
	fallbackUsed     bool
	state            jobState
	err              error

	createdAt  time.Time
	lastAccess time.Time
}

func (j *transcodeJob) segmentExt() string {
	if j.sig.Container == containerFMP4 {
		return ".m4s"
	}
	return ".ts"
}

// jobManager owns the registry of transcode jobs. Lookup-or-create is atomic
// under a single mutex, so at most one job exists per signature.
type jobManager struct {
	cfg     app.Config
	baseDir string
	logger  *slog.Logger
	events  func(event, jobID, itemID, state string)

	startProc startProcFunc

	mu        sync.Mutex
	jobs      map[string]*transcodeJob
	itemIndex map[string]string

	totalStarts      uint64
	totalFailures    uint64
	totalFallbacks   uint64
	totalReaped      uint64
	lastJobStartedAt time.Time
	lastJobError     string
	lastJobErrorAt   time.Time
}

type jobHealthSnapshot struct {
	Status           string     `json:"status"`
	ActiveJobs       int        `json:"activeJobs"`
	TotalJobStarts   uint64     `json:"totalJobStarts"`
	TotalJobFailures uint64     `json:"totalJobFailures"`
	TotalFallbacks   uint64     `json:"totalFallbacks"`
	TotalJobsReaped  uint64     `json:"totalJobsReaped"`
	LastJobStartedAt *time.Time `json:"lastJobStartedAt,omitempty"`
	LastJobError     string     `json:"lastJobError,omitempty"`
	LastJobErrorAt   *time.Time `json:"lastJobErrorAt,omitempty"`
}

func newJobManager(cfg app.Config, logger *slog.Logger, events func(event, jobID, itemID, state string)) *jobManager {
	baseDir := strings.TrimSpace(cfg.HLSDir)
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "mediastream-hls")
	}
	baseDir = filepath.Clean(baseDir)
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = func(string, string, string, string) {}
	}
	return &jobManager{
		cfg:       cfg,
		baseDir:   baseDir,
		logger:    logger,
		events:    events,
		startProc: startEncoder,
		jobs:      make(map[string]*transcodeJob),
		itemIndex: make(map[string]string),
	}
}

// getOrCreate returns the job for the signature, allocating record, working
// directory and item-index entry on first request. Last-access is always
// touched.
func (m *jobManager) getOrCreate(itemID, srcPath, container, vcodec, acodec string) (*transcodeJob, error) {
	switch container {
	case containerTS, containerFMP4:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedContainer, container)
	}
	switch vcodec {
	case videoCodecCopy, videoCodecH264:
	default:
		vcodec = videoCodecH264
	}
	if acodec == "" {
		acodec = audioCodecAAC
	}

	sig := jobSignature{
		ItemID:         itemID,
		Container:      container,
		VideoCodec:     vcodec,
		AudioCodec:     acodec,
		SegmentSeconds: m.cfg.SegmentSeconds,
	}
	id := sig.id()

	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[id]; ok {
		job.lastAccess = time.Now().UTC()
		return job, nil
	}

	dir := filepath.Join(m.baseDir, id)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &transcodeJob{
		id:               id,
		sig:              sig,
		srcPath:          srcPath,
		dir:              dir,
		playlist:         filepath.Join(dir, "index.m3u8"),
		actualVideoCodec: vcodec,
		state:            jobStarting,
		createdAt:        now,
		lastAccess:       now,
	}
	m.jobs[id] = job
	m.itemIndex[itemID] = id
	metrics.HLSActiveJobs.Set(float64(len(m.jobs)))

	m.logger.Info("hls job created",
		slog.String("jobId", id),
		slog.String("itemId", itemID),
		slog.String("container", container),
		slog.String("vcodec", vcodec),
		slog.String("acodec", acodec),
	)
	return job, nil
}

func (m *jobManager) lookup(jobID string) (*transcodeJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// latestJobForItem supports the compat endpoints that address jobs by item id
// with a possibly stale job id.
func (m *jobManager) latestJobForItem(itemID string) (*transcodeJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.itemIndex[itemID]
	if !ok {
		return nil, false
	}
	job, ok := m.jobs[id]
	return job, ok
}

// touch refreshes last-access; every manifest and segment request calls it so
// the reaper only evicts jobs no client is reading.
func (m *jobManager) touch(job *transcodeJob) {
	m.mu.Lock()
	job.lastAccess = time.Now().UTC()
	m.mu.Unlock()
}

func (m *jobManager) recordStart(job *transcodeJob) {
	m.mu.Lock()
	m.totalStarts++
	m.lastJobStartedAt = time.Now().UTC()
	job.state = jobRunning
	job.err = nil
	m.mu.Unlock()
	metrics.HLSJobStartsTotal.Inc()
	m.events("job_started", job.id, job.sig.ItemID, jobRunning.String())
}

func (m *jobManager) recordFailure(job *transcodeJob, err error) {
	now := time.Now().UTC()
	m.mu.Lock()
	m.totalFailures++
	m.lastJobError = strings.TrimSpace(err.Error())
	m.lastJobErrorAt = now
	job.state = jobFailed
	job.err = err
	m.mu.Unlock()
	metrics.HLSJobFailuresTotal.Inc()
	m.events("job_failed", job.id, job.sig.ItemID, jobFailed.String())
}

func (m *jobManager) healthSnapshot() jobHealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := jobHealthSnapshot{
		Status:           "ok",
		ActiveJobs:       len(m.jobs),
		TotalJobStarts:   m.totalStarts,
		TotalJobFailures: m.totalFailures,
		TotalFallbacks:   m.totalFallbacks,
		TotalJobsReaped:  m.totalReaped,
		LastJobError:     m.lastJobError,
	}
	if !m.lastJobStartedAt.IsZero() {
		ts := m.lastJobStartedAt
		s.LastJobStartedAt = &ts
	}
	if !m.lastJobErrorAt.IsZero() {
		ts := m.lastJobErrorAt
		s.LastJobErrorAt = &ts
	}
	return s
}
