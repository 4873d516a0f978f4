package handler

import (
	"net/http"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
	"github.com/kiranshivaraju/ocrflow/internal/cache"
)

// NewCacheStatsHandler returns GET /api/v1/cache/stats.
func NewCacheStatsHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewCacheCleanupHandler returns POST /api/v1/cache/cleanup, which runs one
// eviction pass with the configured policy.
func NewCacheCleanupHandler(store cache.Store, policy cache.EvictPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := store.Evict(r.Context(), policy)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, report)
	}
}

// NewCacheClearHandler returns DELETE /api/v1/cache.
func NewCacheClearHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.Clear(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]int{"removed": n})
	}
}
