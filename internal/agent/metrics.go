package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concierge_sessions_live",
		Help: "Sessions currently open in this process",
	})

	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_sessions_started_total",
		Help: "Sessions that greeted the caller",
	})

	metricSessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_sessions_ended_total",
		Help: "Sessions that completed termination",
	})

	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_turns_total",
		Help: "User turns by outcome",
	}, []string{"outcome"})
)
