package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlagent_build_info",
			Help: "Build information of the SQL agent backend",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_runs_total",
			Help: "Total number of agent runs by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_run_duration_seconds",
			Help:    "Duration of agent runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~3.4m
		},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_step_duration_seconds",
			Help:    "Duration of individual pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
		[]string{"step"},
	)

	GenerationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_generation_attempts",
			Help:    "Number of SQL generation attempts per run",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_llm_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"provider", "status"},
	)

	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_db_queries_total",
			Help: "Total number of datasource queries",
		},
		[]string{"status"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
		[]string{"tool_name"},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlagent_websocket_connections",
			Help: "Number of open websocket connections",
		},
	)
)
