package spill

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	spillPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_spill_pending_events",
		Help: "Events waiting in the on-disk overflow log",
	})

	spillBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_spill_bytes",
		Help: "Current overflow log size in bytes",
	})

	spillAppendTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_spill_append_total",
		Help: "Total events spilled to the overflow log",
	})

	spillFullTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_spill_full_total",
		Help: "Total appends rejected because the overflow log was full",
	})
)

func init() {
	prometheus.MustRegister(spillPending)
	prometheus.MustRegister(spillBytes)
	prometheus.MustRegister(spillAppendTotal)
	prometheus.MustRegister(spillFullTotal)
}
