// Package metrics registers the Prometheus collectors exported on the metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsdash_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Panics counts handler panics recovered by the HTTP middleware, by route template.
	Panics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_http_panics_total",
			Help: "Total number of recovered handler panics",
		},
		[]string{"route"},
	)

	// SyncPasses counts order sync passes by result (cached|updated|skipped|error).
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_sync_passes_total",
			Help: "Total number of order count sync passes",
		},
		[]string{"result"},
	)

	// UpstreamQueries counts order count queries sent to the commerce platform.
	UpstreamQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_upstream_queries_total",
			Help: "Total number of upstream order count queries",
		},
		[]string{"store", "result"},
	)

	// BackendFallbacks counts config operations that fell through to the local file.
	BackendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_config_backend_fallbacks_total",
			Help: "Config store operations served by the file backend after a document store failure",
		},
		[]string{"backend", "operation"},
	)

	// ImagesIngested counts stored gallery images by ingestion backend (s3|local).
	ImagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_images_ingested_total",
			Help: "Total number of gallery images ingested",
		},
		[]string{"backend"},
	)
)
