package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_worker_calls_total",
			Help: "Worker capability invocations by outcome",
		},
		[]string{"worker", "capability", "outcome"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_worker_call_seconds",
			Help:    "Worker capability latency including rate limit wait",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"worker", "capability"},
	)
)
