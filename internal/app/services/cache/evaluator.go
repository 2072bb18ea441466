// Package cache holds the cache validity rules, the hit/miss counters, and
// the statistics and cleanup service shared by the market fetch paths.
package cache

import (
	"time"

	"github.com/trackfolio/backend/internal/app/domain/market"
)

// Valid reports whether a cached observation fetched at fetchedAt is still
// usable under the given TTL. A zero fetchedAt means no observation exists.
// forceRefresh marks the entry stale regardless of age. An entry exactly at
// its TTL boundary is still valid.
func Valid(fetchedAt time.Time, ttl time.Duration, forceRefresh bool, now time.Time) bool {
	if fetchedAt.IsZero() || forceRefresh {
		return false
	}
	return now.Sub(fetchedAt) <= ttl
}

// Status describes a cached observation's relation to its TTL. It is a pure
// computation; the same arguments as Valid plus the derived age and expiry.
func Status(fetchedAt time.Time, ttl time.Duration, forceRefresh bool, now time.Time) market.CacheStatus {
	status := market.CacheStatus{
		TTL:                   ttl,
		TTLMinutes:            ttl.Minutes(),
		ForceRefreshRequested: forceRefresh,
	}
	if fetchedAt.IsZero() {
		return status
	}
	status.AgeMinutes = now.Sub(fetchedAt).Minutes()
	status.ExpiresAt = fetchedAt.Add(ttl)
	status.IsValid = Valid(fetchedAt, ttl, forceRefresh, now)
	return status
}
