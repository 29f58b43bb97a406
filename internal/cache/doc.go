// Package cache implements the capacity-bounded model residency table.
//
// The cache holds opaque engine handles for loaded models, bounded by a
// configurable number of resident models. When the bound is reached the
// active eviction policy selects a victim:
//
//   - LRU: the entry with the oldest organic-use timestamp. Entries that
//     were preloaded and never used rank oldest of all.
//   - LFU: the entry with the lowest organic-use count.
//   - FIFO: the entry inserted earliest, regardless of later use.
//
// All policies break ties toward the lexicographically smallest model
// id, keeping eviction order deterministic.
//
// # Concurrency
//
// A single exclusive lock guards the entry table and statistics. The
// loader call, which can take seconds and allocate gigabytes, always
// runs outside the lock. Concurrent misses for the same id are coalesced
// through a singleflight group so the loader runs at most once per miss;
// every caller of that flight receives the same handle or the same
// error. An id with a load in flight is pinned: it has no table entry
// yet and can never be chosen as an eviction victim.
//
// # Preloads
//
// Preload commits an entry with preloaded=true and leaves the recency
// clock and use count untouched. The first organic use flips the entry
// to ordinary loaded state. This keeps background preloading from
// crowding organically used models out of the cache.
package cache
