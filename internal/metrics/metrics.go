package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ams",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ProbeCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "probe_cache_hits_total",
		Help:      "Total probe requests answered from the LRU cache.",
	})

	ProbeCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "probe_cache_misses_total",
		Help:      "Total probe requests that invoked ffprobe.",
	})

	PlaybackDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "playback_decisions_total",
		Help:      "Playback decision outcomes by kind.",
	}, []string{"kind"})

	RangeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "range_requests_total",
		Help:      "Progressive file requests by response mode (full, partial, pseudo_initial).",
	}, []string{"mode"})

	HLSActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ams",
		Name:      "hls_active_jobs",
		Help:      "Number of registered HLS transcode jobs.",
	})

	HLSJobStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "hls_job_starts_total",
		Help:      "Total number of HLS transcode jobs created.",
	})

	HLSJobFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "hls_job_failures_total",
		Help:      "Total number of HLS transcode job start failures.",
	})

	HLSFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "hls_copy_fallbacks_total",
		Help:      "Total copy-to-encode fallbacks taken by HLS jobs.",
	})

	HLSJobsReapedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "hls_jobs_reaped_total",
		Help:      "Total jobs torn down, by reason (idle, emergency).",
	}, []string{"reason"})

	RemuxSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ams",
		Name:      "remux_sessions_total",
		Help:      "Progressive remux/transcode sessions by path (copy, transcode).",
	}, []string{"path"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProbeCacheHits,
		ProbeCacheMisses,
		PlaybackDecisionsTotal,
		RangeRequestsTotal,
		HLSActiveJobs,
		HLSJobStartsTotal,
		HLSJobFailuresTotal,
		HLSFallbacksTotal,
		HLSJobsReapedTotal,
		RemuxSessionsTotal,
	)
}
