// Package metrics exposes Prometheus instrumentation for the retrieval
// engine. Everything is registered on the default registry and served by
// the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts retrieval requests by mode (period, exact,
	// chat) and outcome (answered, not_found, error).
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_searches_total",
		Help: "Retrieval requests by mode and outcome.",
	}, []string{"mode", "outcome"})

	// BucketsQueried observes how many buckets a period-mode search
	// fanned out to.
	BucketsQueried = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recall_search_buckets_queried",
		Help:    "Buckets fanned out per period-mode search.",
		Buckets: []float64{1, 2, 4, 8, 16},
	})

	// SearchDuration observes end-to-end retrieval latency by mode.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recall_search_duration_seconds",
		Help:    "End-to-end retrieval latency by mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// EmbeddingRetries counts retried embedding provider calls.
	EmbeddingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_embedding_retries_total",
		Help: "Embedding provider attempts that were retried.",
	})

	// EmbeddingMalformedResponses counts provider responses that were not
	// a numeric vector. These are retried like any transient failure but
	// tracked separately because they usually mean a misconfigured
	// endpoint rather than a flaky network.
	EmbeddingMalformedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_embedding_malformed_responses_total",
		Help: "Embedding provider responses that were not a numeric vector.",
	})

	// IngestedRecords counts ingestion pipeline outcomes per record.
	IngestedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_ingested_records_total",
		Help: "Ingestion pipeline record outcomes.",
	}, []string{"outcome"})
)
