package app

import (
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-gonic/gin"
)

func videoCacheKey(c *gin.Context) string {
	return "video:" + c.Param("id")
}

// cacheVideo caches successful video reads by ID, so query strings can't dodge eviction
func cacheVideo(store *persist.MemoryStore, ttl time.Duration) gin.HandlerFunc {
	return cache.Cache(store, ttl, cache.WithCacheStrategyByRequest(func(c *gin.Context) (bool, cache.Strategy) {
		return true, cache.Strategy{CacheKey: videoCacheKey(c)}
	}))
}

// evictVideo drops the cached copy of a video once a mutating handler is done with it
func evictVideo(store *persist.MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Missing keys return an error, nothing to do about those
		_ = store.Delete(videoCacheKey(c))
	}
}

// purgeCache empties the whole store after handlers that touch many videos at once
func purgeCache(store *persist.MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		_ = store.Cache.Purge()
	}
}
