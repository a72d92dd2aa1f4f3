package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// CacheService defines the interface for cache implementations
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// BlockKey is the cache key used to block a source after the target site
// rate-limits it.
func BlockKey(source string) string {
	return source + "_rate_limited"
}

// IsBlocked reports whether a source is currently inside its rate-limit
// block window.
func IsBlocked(svc CacheService, source string) bool {
	if svc == nil {
		return false
	}
	_, err := svc.Get(BlockKey(source))
	return err == nil
}

// Block marks a source rate-limited for the given window
func Block(svc CacheService, source string, window time.Duration) {
	if svc == nil {
		return
	}
	svc.Set(BlockKey(source), []byte(window.String()), window)
}

// SeenKey is the cache key recording that a canonical listing URL was
// recently ingested. URLs are hashed since memcache keys may not contain
// spaces or exceed 250 bytes.
func SeenKey(source, canonicalURL string) string {
	sum := sha1.Sum([]byte(canonicalURL))
	return "seen_" + source + "_" + hex.EncodeToString(sum[:])
}

// MarkSeen records a canonical listing URL as recently ingested
func MarkSeen(svc CacheService, source, canonicalURL string, window time.Duration) {
	if svc == nil {
		return
	}
	svc.Set(SeenKey(source, canonicalURL), []byte("1"), window)
}

// WasSeen reports whether a canonical listing URL was recently ingested.
// Best effort: a cache miss or a cache outage both read as "not seen",
// the sink upsert stays idempotent either way.
func WasSeen(svc CacheService, source, canonicalURL string) bool {
	if svc == nil {
		return false
	}
	_, err := svc.Get(SeenKey(source, canonicalURL))
	return err == nil
}
