// Package metrics registers the service's Prometheus collectors on
// the default registry, served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChartQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashai_chart_query_duration_seconds",
			Help:    "Duration of chart aggregation queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chart"},
	)

	ChartQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashai_chart_query_errors_total",
			Help: "Total number of failed chart aggregation queries",
		},
		[]string{"chart"},
	)

	AgentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashai_agent_runs_total",
			Help: "Agent runs by outcome",
		},
		[]string{"mode", "outcome"}, // mode: chat, stream
	)

	AgentRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dashai_agent_run_duration_seconds",
			Help:    "Duration of agent runs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	AgentToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashai_agent_tool_calls_total",
			Help: "Tool calls executed on behalf of the agent",
		},
		[]string{"tool"},
	)

	AgentBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashai_agent_breaker_state",
			Help: "Agent circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashai_relay_events_total",
			Help: "Tool events handled by the relay",
		},
		[]string{"result"}, // published, dropped
	)

	RelaySessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashai_relay_open_sessions",
			Help: "Streaming runs currently open",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashai_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashai_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	SchemaCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashai_schema_cache_invalidations_total",
			Help: "Times the schema cache was dropped after a database change",
		},
	)
)

// RecordChartQuery observes one chart query.
func RecordChartQuery(chart string, d time.Duration, err error) {
	ChartQueryDuration.WithLabelValues(chart).Observe(d.Seconds())
	if err != nil {
		ChartQueryErrors.WithLabelValues(chart).Inc()
	}
}

// RecordAgentRun observes one finished agent run. outcome is one of
// ok, error, timeout, canceled, unavailable.
func RecordAgentRun(mode, outcome string, d time.Duration) {
	AgentRuns.WithLabelValues(mode, outcome).Inc()
	AgentRunDuration.Observe(d.Seconds())
}

// RecordToolCall counts one executed tool call.
func RecordToolCall(tool string) {
	AgentToolCalls.WithLabelValues(tool).Inc()
}

// RecordRelayEvent counts a relayed or dropped tool event.
func RecordRelayEvent(published bool) {
	if published {
		RelayEvents.WithLabelValues("published").Inc()
		return
	}
	RelayEvents.WithLabelValues("dropped").Inc()
}

// RecordAPIRequest observes one HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, status).
		Observe(d.Seconds())
}
