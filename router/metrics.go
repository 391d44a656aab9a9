package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vaani",
	Subsystem: "router",
	Name:      "decisions_total",
	Help:      "Routing decisions, by kind.",
}, []string{"kind"})

func observeDecision(kind Kind) {
	decisionsTotal.WithLabelValues(string(kind)).Inc()
}
