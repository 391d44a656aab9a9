package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "channel",
		Name:      "outbound_sent_total",
		Help:      "Outbound messages delivered, by platform and kind.",
	}, []string{"platform", "kind"})

	sendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "channel",
		Name:      "outbound_errors_total",
		Help:      "Outbound delivery failures, by platform and kind.",
	}, []string{"platform", "kind"})

	degradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "channel",
		Name:      "capability_degradations_total",
		Help:      "Rich messages degraded to plain text, by platform and original kind.",
	}, []string{"platform", "kind"})
)

func observeSent(platform Platform, kind OutboundKind) {
	sentTotal.WithLabelValues(string(platform), kind.String()).Inc()
}

func observeSendError(platform Platform, kind OutboundKind) {
	sendErrorsTotal.WithLabelValues(string(platform), kind.String()).Inc()
}

func observeDegradation(platform Platform, kind OutboundKind) {
	degradationsTotal.WithLabelValues(string(platform), kind.String()).Inc()
}
