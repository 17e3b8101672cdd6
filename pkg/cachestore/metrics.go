package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (memory, redis, shadow)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoshield_cache_hits_total",
			Help: "Total number of snapshot cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoshield_cache_misses_total",
			Help: "Total number of snapshot cache misses",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoshield_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "get", "set", "delete", "flush"
	)

	// DecodeFailures tracks malformed payloads treated as forced misses
	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seoshield_cache_decode_failures_total",
			Help: "Total number of cache payloads that failed to deserialize",
		},
	)

	// Evictions tracks LRU capacity evictions in the memory store
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seoshield_cache_evictions_total",
			Help: "Total number of LRU evictions from the memory store",
		},
	)

	// ShadowRefreshes tracks background shadow fetches by outcome
	ShadowRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoshield_shadow_refreshes_total",
			Help: "Total number of background shadow fetches by outcome",
		},
		[]string{"outcome"}, // "hit", "miss", "error"
	)

	// BackendFallbacks tracks startup fallbacks to the memory store
	BackendFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seoshield_backend_fallbacks_total",
			Help: "Total number of fallbacks from the remote backend to memory",
		},
	)
)
