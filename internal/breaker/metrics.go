package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdc_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})

	openTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_circuit_breaker_open_total",
		Help: "Total transitions to the open state",
	}, []string{"breaker"})

	shortCircuitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_circuit_breaker_short_circuit_total",
		Help: "Total calls rejected without contacting the sink",
	}, []string{"breaker"})
)

func init() {
	prometheus.MustRegister(stateGauge)
	prometheus.MustRegister(openTotal)
	prometheus.MustRegister(shortCircuitTotal)
}
