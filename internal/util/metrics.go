package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatTurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "Total number of chat turns by how they ended",
	}, []string{"outcome"})

	ChatStepsPerTurn = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_steps_per_turn",
		Help:    "Reasoning rounds used per chat turn",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tool_calls_total",
		Help: "Total number of tool invocations",
	}, []string{"tool", "outcome"})

	ToolExecutionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tool_execution_latency_seconds",
		Help:    "Latency of automatic tool executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	CatalogFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_fetch_latency_seconds",
		Help:    "Latency of catalog search page fetches",
		Buckets: prometheus.DefBuckets,
	})

	CatalogFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_fetch_errors_total",
		Help: "Total number of failed catalog fetches",
	}, []string{"reason"})

	SearchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_cache_total",
		Help: "Search cache lookups by result",
	}, []string{"result"})

	EnrichmentFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrichment_failures_total",
		Help: "Total number of product enrichment calls that fell back to plain results",
	})

	CheckoutEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_events_total",
		Help: "Checkout lifecycle events by type",
	}, []string{"event"})

	CheckoutValidationFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_validation_failed_total",
		Help: "Checkout requests rejected locally by missing field",
	}, []string{"field"})

	CommerceAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commerce_api_latency_seconds",
		Help:    "Latency of commerce API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	CheckoutPollAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_poll_attempts_total",
		Help: "Total number of checkout intent polls",
	}, []string{"phase"})

	OpenCheckoutFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_flows_open",
		Help: "Number of checkout flows currently open",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
