package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUtterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_utterances_total",
		Help: "start_tts commands sent to workers",
	}, []string{"kind"})

	metricBargeIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_barge_in_events_total",
		Help: "Total barge-in stop events triggered",
	})

	metricBargeInSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_barge_in_suppressed_total",
		Help: "User speech over non-interruptible utterances",
	})

	metricTTSTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_tts_timeouts_total",
		Help: "Utterances resolved by the safety timeout",
	})
)
