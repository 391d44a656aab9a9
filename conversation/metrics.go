package conversation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vaanihq/vaani/channel"
)

var (
	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "conversation",
		Name:      "inbound_total",
		Help:      "Inbound messages accepted for processing, by platform.",
	}, []string{"platform"})

	queueRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "conversation",
		Name:      "queue_rejects_total",
		Help:      "Messages soft-rejected by the bounded per-recipient queue.",
	}, []string{"platform"})

	deadlineTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "conversation",
		Name:      "step_deadline_exceeded_total",
		Help:      "Steps that blew the wall-clock budget and soft-failed.",
	}, []string{"platform"})

	processingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vaani",
		Subsystem: "conversation",
		Name:      "processing_seconds",
		Help:      "End-to-end inbound handling latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 8},
	}, []string{"platform"})
)

func observeInbound(platform channel.Platform) {
	inboundTotal.WithLabelValues(string(platform)).Inc()
}

func observeQueueReject(platform channel.Platform) {
	queueRejectsTotal.WithLabelValues(string(platform)).Inc()
}

func observeDeadline(platform channel.Platform) {
	deadlineTotal.WithLabelValues(string(platform)).Inc()
}

func observeProcessed(platform channel.Platform, d time.Duration) {
	processingSeconds.WithLabelValues(string(platform)).Observe(d.Seconds())
}
