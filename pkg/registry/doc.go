// Package registry persists the instance map to a single JSON file
// (instances.json) with write-temp-then-rename atomicity and fsync.
// Cross-instance saves are serialized by an internal mutex; per-instance
// mutation ordering is the lifecycle controller's responsibility.
package registry
