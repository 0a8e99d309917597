// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "torrentstream"

var (
	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, stale, success, error
	//   - cache_type: memory, redis, archive
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - group: catalog, registration, archive
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"group", "result"},
	)

	// ActiveSessions is the number of registered transfer sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of registered transfer sessions",
		},
	)

	// DescriptorFetchesTotal tracks remote descriptor retrievals.
	// Labels:
	//   - scheme: http, https, s3
	//   - status: success, error
	DescriptorFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_fetches_total",
			Help:      "Total number of remote descriptor fetches",
		},
		[]string{"scheme", "status"},
	)

	// CatalogBuildsTotal tracks catalog builds.
	// Labels:
	//   - status: success, error
	CatalogBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_builds_total",
			Help:      "Total number of catalog builds",
		},
		[]string{"status"},
	)

	// ArchiveFlattensTotal tracks archive flattening outcomes.
	// Labels:
	//   - status: success, skipped
	ArchiveFlattensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_flattens_total",
			Help:      "Total number of archive flatten attempts",
		},
		[]string{"status"},
	)

	// StreamsTotal tracks streaming responses by terminal state.
	// Labels:
	//   - state: complete, aborted, error
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of streaming responses by terminal state",
		},
		[]string{"state"},
	)

	// StreamedBytesTotal counts body bytes written by the range streamer.
	StreamedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_bytes_total",
			Help:      "Total number of entry bytes streamed to clients",
		},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusStale   = "stale"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeMemory  = "memory"
	CacheTypeRedis   = "redis"
	CacheTypeArchive = "archive"
)

// Singleflight group constants.
const (
	SingleflightGroupCatalog      = "catalog"
	SingleflightGroupRegistration = "registration"
	SingleflightGroupArchive      = "archive"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Generic outcome constants.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Stream terminal state constants.
const (
	StreamComplete = "complete"
	StreamAborted  = "aborted"
	StreamError    = "error"
)
