package reasoning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concierge_llm_latency_ms",
		Help:    "Latency of one reasoning step",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	}, []string{"provider"})

	metricLLMErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_llm_errors_total",
		Help: "Failed reasoning steps",
	}, []string{"provider"})
)
