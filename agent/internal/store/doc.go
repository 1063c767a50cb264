// Package store keeps the latest derived Result per shot in memory, with TTL
// eviction of shots that stop refreshing.
package store
