package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments for the retrieval pipeline and
// the crisis policy graph.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	RetrieverTimeouts *prometheus.CounterVec
	RetrieverEmpty    *prometheus.CounterVec
	DriftCatches      prometheus.Counter
	CrisisHandoffs    prometheus.Counter
	RerankSkipped     prometheus.Counter
	PipelineLatency   prometheus.Histogram
}

// NewMetrics registers all instruments against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attune_turns_total",
			Help: "Turns processed, labelled by reply path.",
		}, []string{"path"}),
		RetrieverTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attune_retriever_timeouts_total",
			Help: "Retriever tasks that hit their per-backend timeout.",
		}, []string{"retriever"}),
		RetrieverEmpty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attune_retriever_empty_total",
			Help: "Retriever tasks that degraded to an empty result list.",
		}, []string{"retriever"}),
		DriftCatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attune_output_guard_drift_total",
			Help: "Replies discarded by the output guard's risk re-scan.",
		}),
		CrisisHandoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attune_crisis_handoffs_total",
			Help: "SBAR handoff records emitted to the escalation channel.",
		}),
		RerankSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attune_rerank_skipped_total",
			Help: "Requests where cross-encoder reranking was skipped.",
		}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attune_pipeline_latency_seconds",
			Help:    "End-to-end retrieval pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TurnsTotal,
			m.RetrieverTimeouts,
			m.RetrieverEmpty,
			m.DriftCatches,
			m.CrisisHandoffs,
			m.RerankSkipped,
			m.PipelineLatency,
		)
	}
	return m
}

// NewNopMetrics returns unregistered instruments for tests.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}
