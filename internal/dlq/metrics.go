package dlq

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dlqEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_dlq_entries",
		Help: "Entries currently held in the dead-letter store",
	})

	dlqBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_dlq_bytes",
		Help: "On-disk size of the dead-letter store in bytes",
	})

	dlqSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_dlq_segments",
		Help: "Number of dead-letter segment files",
	})

	enqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_dlq_enqueued_total",
		Help: "Total entries written to the dead-letter store",
	})

	replayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_dlq_replayed_total",
		Help: "Total entries read back during replay",
	})

	purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_dlq_purged_total",
		Help: "Total entries dropped by retention purge",
	})
)

func init() {
	prometheus.MustRegister(dlqEntries)
	prometheus.MustRegister(dlqBytes)
	prometheus.MustRegister(dlqSegments)
	prometheus.MustRegister(enqueuedTotal)
	prometheus.MustRegister(replayedTotal)
	prometheus.MustRegister(purgedTotal)
}
