package compression

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	compressionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdc_pipeline_compression_duration_seconds",
		Help:    "Time spent compressing batch payloads",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	compressionRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_compression_ratio",
		Help: "Compressed/uncompressed size ratio of the last compressed batch",
	})

	compressionFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_compression_fallback_total",
		Help: "Total batches sent uncompressed after a codec failure",
	})

	compressedBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_compression_batches_total",
		Help: "Total batches compressed, by codec",
	}, []string{"codec"})
)

func init() {
	prometheus.MustRegister(compressionDuration)
	prometheus.MustRegister(compressionRatio)
	prometheus.MustRegister(compressionFallbackTotal)
	prometheus.MustRegister(compressedBatchesTotal)

	compressionFallbackTotal.Add(0)
}
