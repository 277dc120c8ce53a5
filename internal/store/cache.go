package store

import "time"

// Cached is a fetched value together with when it was fetched. Staleness
// is an explicit policy checked at read time, not an ad hoc TTL scattered
// per feature.
type Cached[T any] struct {
	Data      T
	FetchedAt time.Time
}

// NewCached wraps data fetched at now.
func NewCached[T any](data T, now time.Time) Cached[T] {
	return Cached[T]{Data: data, FetchedAt: now}
}

// StaleAt reports whether the value is older than ttl at the given time.
// A zero Cached is always stale.
func (c Cached[T]) StaleAt(ttl time.Duration, now time.Time) bool {
	if c.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(c.FetchedAt) > ttl
}
