package metrics

import "github.com/prometheus/client_golang/prometheus"

// Voice pipeline Prometheus metrics.
var (
	TurnStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voxdex",
			Name:      "turn_stage_duration_seconds",
			Help:      "Duration of one turn stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "turns_total",
			Help:      "Completed turns by outcome",
		},
		[]string{"outcome"}, // "ok" / "empty_transcript" / "error" / "barged_in"
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status",
		},
		[]string{"tool", "status"}, // "ok" / "duplicate" / "timeout" / "error"
	)

	FillerEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "filler_emitted_total",
			Help:      "Filler utterances streamed while a tool call was in flight",
		},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voxdex",
			Name:      "search_duration_seconds",
			Help:      "Hybrid search duration by serving index",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"index"}, // "live" / "fallback"
	)

	SearchFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "search_fallback_total",
			Help:      "Searches served by the degraded snapshot index",
		},
	)

	InterpreterFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "interpreter_fallback_total",
			Help:      "Searches downgraded to a text-only query after interpreter failure",
		},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voxdex",
			Name:      "provider_request_duration_seconds",
			Help:      "External AI provider call duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"}, // "transcribe" / "complete" / "synthesize" / "embed"
	)

	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "provider_errors_total",
			Help:      "External AI provider call failures",
		},
		[]string{"op"},
	)

	EmbedCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxdex",
			Name:      "embed_cache_total",
			Help:      "Query phrase embedding cache lookups",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "voxdex",
			Name:      "active_sessions",
			Help:      "Open caller sessions",
		},
	)

	BudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voxdex",
			Name:      "budget_tokens_remaining",
			Help:      "Embedding tokens left in the provider budget, -1 when unlimited",
		},
		[]string{"window"}, // "daily" / "monthly"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers voice pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(TurnStageDuration)
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(FillerEmittedTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchFallbackTotal)
	prometheus.MustRegister(InterpreterFallbackTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(ProviderErrorsTotal)
	prometheus.MustRegister(EmbedCacheTotal)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(BudgetTokensRemaining)
	pipelineMetricsRegistered = true
}
