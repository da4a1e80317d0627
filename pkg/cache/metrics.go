package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts pages served from Redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "page_cache_hits_total",
		Help: "Total number of PandaScore pages served from the page cache",
	})

	// CacheMisses counts lookups that found nothing usable.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "page_cache_misses_total",
		Help: "Total number of page cache misses",
	})

	// CacheErrors counts Redis failures by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "page_cache_errors_total",
		Help: "Total number of page cache operation errors",
	}, []string{"operation"})
)
