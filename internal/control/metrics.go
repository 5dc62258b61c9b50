package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "concierge_control_calls_total",
	Help: "Control RPCs by method and status code",
}, []string{"method", "code"})
