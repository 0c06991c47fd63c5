package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_events_in_total",
		Help: "Events pulled from sources",
	}, []string{"source"})

	eventsOutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_events_out_total",
		Help: "Events acknowledged by sinks",
	}, []string{"source"})

	eventsSpilledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_events_spilled_total",
		Help: "Events diverted to the overflow log",
	}, []string{"source"})

	eventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_events_dropped_total",
		Help: "Events dropped, by reason",
	}, []string{"source", "reason"})

	batchesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_batches_sent_total",
		Help: "Batches delivered to sinks",
	}, []string{"source"})

	sendRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_send_retries_total",
		Help: "Send retries after transient failures",
	}, []string{"source"})

	shortCircuitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_send_short_circuit_total",
		Help: "Sends held back by an open circuit breaker",
	}, []string{"source"})

	deadLetteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_pipeline_dead_lettered_total",
		Help: "Events routed to the dead-letter store",
	}, []string{"source"})

	sendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdc_pipeline_send_duration_seconds",
		Help:    "Sink send latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(eventsInTotal)
	prometheus.MustRegister(eventsOutTotal)
	prometheus.MustRegister(eventsSpilledTotal)
	prometheus.MustRegister(eventsDroppedTotal)
	prometheus.MustRegister(batchesSentTotal)
	prometheus.MustRegister(sendRetriesTotal)
	prometheus.MustRegister(shortCircuitTotal)
	prometheus.MustRegister(deadLetteredTotal)
	prometheus.MustRegister(sendDuration)
}
