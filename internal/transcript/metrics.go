package transcript

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_transcript_turns_written_total",
		Help: "Turns persisted to Redis",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_transcript_turns_dropped_total",
		Help: "Turns dropped because the queue was full",
	})

	metricWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_transcript_write_errors_total",
		Help: "Failed Redis writes",
	})
)
