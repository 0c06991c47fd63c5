package backpressure

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	occupancyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_buffer_occupancy",
		Help: "Shared buffer occupancy as a fraction (0.0-1.0)",
	})

	engagedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_pipeline_backpressure_engaged",
		Help: "Whether backpressure is currently engaged (0 or 1)",
	})

	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_backpressure_actions_total",
		Help: "Total backpressure actions issued, by action",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(occupancyGauge)
	prometheus.MustRegister(engagedGauge)
	prometheus.MustRegister(actionsTotal)
}
