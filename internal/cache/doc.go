// ABOUTME: Package cache provides a generic TTL and size bounded in-memory cache.
// ABOUTME: It backs the application record repository.

// Package cache holds loaded values for a bounded time. Entries expire after
// the configured TTL and the least recently stored entry is evicted when the
// cache is full. A background goroutine sweeps expired entries until Close.
package cache
