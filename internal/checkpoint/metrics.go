package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	positionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdc_pipeline_checkpoint_position",
		Help: "Last recorded position per source",
	}, []string{"source"})

	advanceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_checkpoint_advance_total",
		Help: "Total successful checkpoint advances per source",
	}, []string{"source"})

	regressionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_checkpoint_regression_total",
		Help: "Total rejected position regressions per source",
	}, []string{"source"})

	flushTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdc_pipeline_checkpoint_flush_total",
		Help: "Total checkpoint state flushes to disk",
	})
)

func init() {
	prometheus.MustRegister(positionGauge)
	prometheus.MustRegister(advanceTotal)
	prometheus.MustRegister(regressionTotal)
	prometheus.MustRegister(flushTotal)
}
