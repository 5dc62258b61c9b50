package handoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHandoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_handoffs_total",
		Help: "Completed persona hand-offs",
	}, []string{"from", "to"})

	metricHandoffNoops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_handoff_noops_total",
		Help: "Return-to-router requests while already routing",
	})

	metricRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_handoff_rejections_total",
		Help: "Hand-off requests that did not switch persona",
	}, []string{"reason"})

	metricNoticeMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "concierge_handoff_notice_ms",
		Help:    "Time from transfer notice start to playback completion",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
	})
)
