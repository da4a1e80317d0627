// Package cache stores PandaScore page responses in Redis so repeated
// migration runs do not spend API quota on pages they already have.
//
// Entries live for a fixed TTL chosen by the caller; PandaScore does not send
// Expires headers. A fresh entry is served without touching the API.
//
//	manager := cache.NewManager(redisClient, 30*time.Minute)
//	key := cache.PageKey{Endpoint: "/leagues", Page: 1, PerPage: 100}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then manager.Set(ctx, key, cache.ResponseToEntry(resp, ttl))
//	}
//
// Metrics:
//
//   - page_cache_hits_total
//   - page_cache_misses_total
//   - page_cache_errors_total{operation}
package cache
