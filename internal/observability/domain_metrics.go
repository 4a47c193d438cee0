package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Question outcomes used as the "outcome" label of querydesk_questions_total.
const (
	OutcomeAnswered         = "answered"
	OutcomeMissingInput     = "missing_input"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeUnsafeQuery      = "unsafe_query"
	OutcomeExecutionFailed  = "execution_failed"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_questions_total",
			Help: "Total number of questions by outcome.",
		},
		[]string{"outcome"},
	)
	generationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querydesk_generation_latency_ms",
			Help:    "Latency of SQL generation calls in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000},
		},
	)
	guardRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydesk_guard_rejections_total",
			Help: "Total number of generated statements rejected by the SELECT-only guard.",
		},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querydesk_execution_latency_ms",
			Help:    "Latency of validated query execution in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_schema_refresh_total",
			Help: "Total number of schema refresh attempts by status.",
		},
		[]string{"status"},
	)
	schemaColumns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querydesk_schema_columns",
			Help: "Number of columns in the active schema snapshot.",
		},
	)
	schemaPublishedUnix = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querydesk_schema_published_timestamp_seconds",
			Help: "Publish time of the active schema snapshot as a unix timestamp.",
		},
	)
	chartFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydesk_chart_failures_total",
			Help: "Total number of chart renders that failed and were dropped from the response.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		generationLatencyMs,
		guardRejectionsTotal,
		executionLatencyMs,
		schemaRefreshTotal,
		schemaColumns,
		schemaPublishedUnix,
		chartFailuresTotal,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveGeneration(elapsed time.Duration) {
	generationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementGuardRejection() {
	guardRejectionsTotal.Inc()
}

func ObserveExecution(elapsed time.Duration) {
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveSchemaRefresh(err error, columns int, publishedAt time.Time) {
	if err != nil {
		schemaRefreshTotal.WithLabelValues("failed").Inc()
		return
	}
	schemaRefreshTotal.WithLabelValues("succeeded").Inc()
	SetSchemaSnapshot(columns, publishedAt)
}

func SetSchemaSnapshot(columns int, publishedAt time.Time) {
	schemaColumns.Set(float64(columns))
	schemaPublishedUnix.Set(float64(publishedAt.Unix()))
}

func IncrementChartFailure() {
	chartFailuresTotal.Inc()
}
