package apihttp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"mediastream/internal/metrics"
)

const stopGrace = 3 * time.Second

// reapLoop sweeps the registry on a fixed interval, evicting jobs whose
// last-access exceeds the idle threshold. Errors are logged and never stop
// the loop.
func (m *jobManager) reapLoop(ctx context.Context) {
	interval := m.cfg.ReaperInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now().UTC())
		}
	}
}

// sweep removes idle jobs. Expired entries are unlinked from both registries
// under the lock; process teardown and directory removal happen outside it so
// a slow kill never blocks manifest requests.
func (m *jobManager) sweep(now time.Time) {
	idle := m.cfg.JobIdleTimeout
	if idle <= 0 {
		idle = 10 * time.Minute
	}

	m.mu.Lock()
	var expired []*transcodeJob
	for id, job := range m.jobs {
		if now.Sub(job.lastAccess) > idle {
			delete(m.jobs, id)
			if m.itemIndex[job.sig.ItemID] == id {
				delete(m.itemIndex, job.sig.ItemID)
			}
			expired = append(expired, job)
		}
	}
	m.totalReaped += uint64(len(expired))
	metrics.HLSActiveJobs.Set(float64(len(m.jobs)))
	m.mu.Unlock()

	for _, job := range expired {
		m.teardown(job, "idle")
	}
}

func (m *jobManager) teardown(job *transcodeJob, reason string) {
	// startMu serializes against a concurrent startOrWarm on a job that was
	// just unlinked from the registry.
	job.startMu.Lock()
	if job.proc != nil && job.proc.Alive() {
		job.proc.Stop(stopGrace)
	}
	job.startMu.Unlock()
	if err := os.RemoveAll(job.dir); err != nil {
		m.logger.Warn("hls job dir removal failed",
			slog.String("jobId", job.id),
			slog.String("error", err.Error()),
		)
	}
	metrics.HLSJobsReapedTotal.WithLabelValues(reason).Inc()
	m.events("job_reaped", job.id, job.sig.ItemID, reason)
	m.logger.Info("hls job reaped",
		slog.String("jobId", job.id),
		slog.String("itemId", job.sig.ItemID),
		slog.String("reason", reason),
	)
}

// EmergencyStop tears down every job immediately regardless of idle time and
// best-effort kills stray encoder processes by name as a last resort.
func (m *jobManager) EmergencyStop() {
	m.mu.Lock()
	var all []*transcodeJob
	for id, job := range m.jobs {
		delete(m.jobs, id)
		all = append(all, job)
	}
	m.itemIndex = make(map[string]string)
	m.totalReaped += uint64(len(all))
	metrics.HLSActiveJobs.Set(0)
	m.mu.Unlock()

	for _, job := range all {
		m.teardown(job, "emergency")
	}

	if base := filepath.Base(m.cfg.FFMPEGPath); base != "" && base != "." {
		_ = exec.Command("pkill", "-f", base).Run()
	}
}
