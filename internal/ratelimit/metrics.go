package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	admittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_ratelimit_admitted_total",
		Help: "Total events admitted by the rate limiter",
	}, []string{"algorithm", "source"})

	deniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_ratelimit_denied_total",
		Help: "Total admission requests denied by the rate limiter",
	}, []string{"algorithm", "source"})

	currentRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdc_pipeline_ratelimit_current_rate",
		Help: "Current effective rate limit in events per second",
	}, []string{"algorithm", "source"})
)

func init() {
	prometheus.MustRegister(admittedTotal)
	prometheus.MustRegister(deniedTotal)
	prometheus.MustRegister(currentRate)
}
