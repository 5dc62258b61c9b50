package terminate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_terminations_total",
		Help: "Termination sequences started",
	})

	metricTeardownFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_teardown_failures_total",
		Help: "Room deletions that failed during termination",
	})

	metricTerminationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "concierge_termination_ms",
		Help:    "Duration of the termination sequence",
		Buckets: prometheus.ExponentialBuckets(500, 1.5, 10),
	})
)
