package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hypertube",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hypertube",
		Name:      "active_downloads",
		Help:      "Number of in-flight swarm download jobs.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hypertube",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	DownloadsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "downloads_completed_total",
		Help:      "Total number of downloads that reached ready status.",
	})

	DownloadsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "downloads_failed_total",
		Help:      "Total number of failed downloads by reason.",
	}, []string{"reason"})

	TranscodeJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "transcode_jobs_total",
		Help:      "Total number of transcode jobs started.",
	})

	TranscodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "transcode_failures_total",
		Help:      "Total number of transcode job failures.",
	})

	TranscodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hypertube",
		Name:      "transcode_duration_seconds",
		Help:      "Duration of FFmpeg conversion jobs in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	StreamedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "streamed_bytes_total",
		Help:      "Total bytes written to clients by the range streamer.",
	})

	RangeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "range_requests_total",
		Help:      "Total range-stream responses by status class.",
	}, []string{"status"})

	CleanupItemsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "cleanup_items_reclaimed_total",
		Help:      "Total number of content items reclaimed by the sweeper.",
	})

	CleanupBytesFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "cleanup_bytes_freed_total",
		Help:      "Total bytes freed by the sweeper.",
	})

	CleanupErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "cleanup_errors_total",
		Help:      "Total per-item cleanup failures (sweep continues past them).",
	})

	SubtitleFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hypertube",
		Name:      "subtitle_fetches_total",
		Help:      "Total subtitle resolutions by source (cache, provider, placeholder).",
	}, []string{"source"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveDownloads,
		DownloadSpeedBytes,
		DownloadsCompletedTotal,
		DownloadsFailedTotal,
		TranscodeJobsTotal,
		TranscodeFailuresTotal,
		TranscodeDuration,
		StreamedBytesTotal,
		RangeRequestsTotal,
		CleanupItemsReclaimed,
		CleanupBytesFreed,
		CleanupErrorsTotal,
		SubtitleFetchesTotal,
	)
}
