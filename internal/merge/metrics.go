package merge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mergeOutcomes counts merge calls.
	// Labels: operation (merge, decide), outcome (inserted, replaced, decision, failed)
	mergeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docmerge",
		Subsystem: "engine",
		Name:      "merges_total",
		Help:      "Merge calls by outcome",
	}, []string{"operation", "outcome"})

	// mergeLatency measures a merge call end to end, store round trips included.
	mergeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docmerge",
		Subsystem: "engine",
		Name:      "merge_duration_seconds",
		Help:      "Merge call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	// planEdits tracks how many primitive edits each submitted plan carried.
	planEdits = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docmerge",
		Subsystem: "engine",
		Name:      "plan_edits",
		Help:      "Primitive edits per submitted plan",
		Buckets:   []float64{1, 2, 3, 4, 6, 8},
	})

	// attributions counts source comments.
	// Labels: path (anchored, document, failed)
	attributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docmerge",
		Subsystem: "engine",
		Name:      "attributions_total",
		Help:      "Source attribution comments by path",
	}, []string{"path"})
)
