package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tgstream",
		Name:      "active_streams",
		Help:      "Number of currently running stream supervisors.",
	})

	StreamRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgstream",
		Name:      "stream_restarts_total",
		Help:      "Total supervisor restarts by reason.",
	}, []string{"reason"})

	WorkerLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tgstream",
		Name:      "worker_load",
		Help:      "In-flight streams per upstream worker.",
	}, []string{"worker"})

	UpstreamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tgstream",
		Name:      "upstream_bytes_total",
		Help:      "Total bytes pulled from the upstream.",
	})

	SegmenterSpawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tgstream",
		Name:      "segmenter_spawns_total",
		Help:      "Total number of HLS segmenter processes started.",
	})

	EncoderProcesses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tgstream",
		Name:      "encoder_processes",
		Help:      "Number of currently registered encoder processes.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveStreams,
		StreamRestartsTotal,
		WorkerLoad,
		UpstreamBytesTotal,
		SegmenterSpawnsTotal,
		EncoderProcesses,
	)
}
