package server

// Missing-stream cache: remembers a media path whose
// resolution just failed so a reconnecting client that retries the same
// path rapidly gets a deliberately delayed rejection instead of repeatedly
// paying the full mapper/authorizer lookup cost - this is what defeats a
// reconnect storm against a path that legitimately has no publisher.
//
// Built on internal/cacheutil.Cache's LRU+TTL eviction, used here as a
// negative cache keyed by media path.

import (
	"time"

	"github.com/alxayo/go-streamcore/internal/cacheutil"
	"github.com/alxayo/go-streamcore/internal/metrics"
)

const (
	defaultMissingStreamTTL    = 5 * time.Second
	defaultMissingStreamMax    = 4096
	defaultMissingStreamReject = 250 * time.Millisecond
)

// MissingStreamCache tracks recently-failed media path resolutions.
type MissingStreamCache struct {
	cache       *cacheutil.Cache[string, time.Time]
	rejectDelay time.Duration
	metrics     *metrics.Registry
}

// NewMissingStreamCache returns a cache that remembers a failed path for ttl
// and imposes rejectDelay before answering a repeat lookup of a cached miss.
func NewMissingStreamCache(ttl time.Duration, rejectDelay time.Duration) *MissingStreamCache {
	if ttl <= 0 {
		ttl = defaultMissingStreamTTL
	}
	if rejectDelay <= 0 {
		rejectDelay = defaultMissingStreamReject
	}
	c := &MissingStreamCache{rejectDelay: rejectDelay}
	c.cache = cacheutil.New[string, time.Time](cacheutil.LRU, defaultMissingStreamMax, ttl, func(string, time.Time) {
		if c.metrics != nil {
			c.metrics.CacheEvictions.WithLabelValues("missing_stream").Inc()
		}
	})
	return c
}

// SetMetrics attaches a metrics.Registry; nil (the default) disables
// instrumentation, mirroring distributor.Distributor.SetMetrics.
func (c *MissingStreamCache) SetMetrics(m *metrics.Registry) {
	c.metrics = m
	c.cache.SetHitHook(func() {
		if c.metrics != nil {
			c.metrics.CacheHits.WithLabelValues("missing_stream").Inc()
		}
	})
}

// MarkMissing records path as having just failed resolution.
func (c *MissingStreamCache) MarkMissing(path string) {
	c.cache.Add(path, time.Now(), true)
}

// CheckAndDelay reports whether path is a known-recent miss. If it is, the
// caller should wait RejectDelay() before sending its rejection response, so
// a client hammering a dead path pays a fixed delay on every attempt instead
// of spinning a tight reconnect loop.
func (c *MissingStreamCache) CheckAndDelay(path string) bool {
	_, hit := c.cache.Get(path)
	return hit
}

// RejectDelay is how long a cached-miss rejection should be held before
// being sent.
func (c *MissingStreamCache) RejectDelay() time.Duration { return c.rejectDelay }

// Forget removes path from the cache, used once a publisher for path
// reappears so the next play attempt isn't held back by a stale entry.
func (c *MissingStreamCache) Forget(path string) { c.cache.Del(path) }
