package preference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "preference",
		Name:      "extracted_total",
		Help:      "Extracted preference items, by tier outcome.",
	}, []string{"tier"})

	enrichFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vaani",
		Subsystem: "preference",
		Name:      "enrich_failures_total",
		Help:      "Enrichment passes abandoned on LLM or persistence failure.",
	})
)

func observeExtracted(tier string) {
	extractedTotal.WithLabelValues(tier).Inc()
}

func observeEnrichFailure() {
	enrichFailuresTotal.Inc()
}
